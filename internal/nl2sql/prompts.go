package nl2sql

import (
	"fmt"
	"strings"
)

const queryGenInstruction = `You are a SQL expert with a strong attention to detail.
You can define SQL queries, analyze query results and interpret query results to provide an answer.
Read the user's question and the database schema information, then:
1. Create a syntactically correct DuckDB SQL query to answer the user question. DuckDB uses PostgreSQL-like SQL syntax. DO NOT make any DML statements (INSERT, UPDATE, DELETE, DROP etc.) to the database.
2. Your query MUST be a valid DuckDB SQL query. Do not include any explanations or comments, just the raw SQL query.
3. Always start your query with SELECT, never with other keywords like TO, WITH, etc.
4. Refer to tables as dataset.table and wrap any name containing a hyphen in double quotes.
5. Wrap aggregated numeric columns in COALESCE so NULL values do not break the result.
6. Once you have the query results, interpret them and answer the question following this pattern: Answer: <<question answer>>.`

const queryExplanationInstruction = `You are a SQL expert who can explain SQL queries in a clear, educational way.
Given a SQL query, provide a detailed explanation of what the query does, breaking down each part:
1. Explain the overall purpose of the query
2. Break down each clause (SELECT, FROM, WHERE, GROUP BY, etc.) and explain what it does
3. Explain any functions, operators, or special syntax used
4. Describe how the data is being filtered, grouped, or transformed
Your explanation should be educational and help someone understand both what the query is doing and why it's structured that way.`

const answerInstruction = "Based on the query results, provide a clear answer to the user's question. Start your response with 'Answer: '"

func tableSelectionPrompt(question, tableList string) string {
	return fmt.Sprintf(
		"Based on this question: \"%s\" and these available tables: %s, which table should I get the schema for? Just respond with the table name in format 'dataset.table'.",
		question,
		tableList,
	)
}

func generationPrompt(question, tableList, schema string) string {
	return fmt.Sprintf("Question: %s\n\nAvailable tables: %s\n\nSchema: %s", question, tableList, schema)
}

func explanationPrompt(query string) string {
	return "Explain this SQL query: " + query
}

func answerPrompt(question, query, result string) string {
	return fmt.Sprintf("Question: %s\n\nQuery: %s\n\nQuery Result: %s", question, query, result)
}

// FormatTableList renders the table listing shown to the model and streamed
// to the client.
func FormatTableList(tables []string) string {
	if len(tables) == 0 {
		return "No tables found in the database."
	}
	return "Tables in the database:\n" + strings.Join(tables, "\n")
}

// Package stream renders assistant progress as server-sent events.
package stream

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

type Kind string

const (
	KindInfo             Kind = "info"
	KindError            Kind = "error"
	KindToolCall         Kind = "tool_call"
	KindToolResponse     Kind = "tool_response"
	KindQueryGenerated   Kind = "query_generated"
	KindQueryExplanation Kind = "query_explanation"
	KindFinalAnswer      Kind = "final_answer"
)

// Tool names reported in tool_call and tool_response events.
const (
	ToolListTables = "list_tables"
	ToolSchema     = "sql_db_schema"
	ToolQuery      = "db_query_tool"
)

type Event struct {
	Kind    Kind
	Tool    string
	Args    map[string]string
	Content string
}

func Info(message string) Event {
	return Event{Kind: KindInfo, Content: message}
}

func Error(message string) Event {
	return Event{Kind: KindError, Content: message}
}

func ToolCall(tool string, args map[string]string) Event {
	return Event{Kind: KindToolCall, Tool: tool, Args: args}
}

func ToolResponse(tool, content string) Event {
	return Event{Kind: KindToolResponse, Tool: tool, Content: content}
}

func QueryGenerated(sql string) Event {
	return Event{Kind: KindQueryGenerated, Content: sql}
}

func QueryExplanation(text string) Event {
	return Event{Kind: KindQueryExplanation, Content: text}
}

func FinalAnswer(text string) Event {
	return Event{Kind: KindFinalAnswer, Content: text}
}

// Format returns the SSE event name and the text payload for an event.
func Format(event Event) (string, string) {
	switch event.Kind {
	case KindToolResponse:
		tool := event.Tool
		if tool == "" {
			tool = "Unknown Tool"
		}
		return string(event.Kind), fmt.Sprintf("Tool Response: %s\nContent: %s", tool, event.Content)
	case KindToolCall:
		return string(event.Kind), formatToolCall(event)
	case KindFinalAnswer:
		return string(event.Kind), "Final Answer: " + event.Content
	case KindQueryGenerated:
		return string(event.Kind), "Generated Query: " + event.Content
	case KindQueryExplanation:
		return string(event.Kind), "Query Explanation: " + event.Content
	case "":
		return string(KindInfo), event.Content
	default:
		return string(event.Kind), event.Content
	}
}

func formatToolCall(event Event) string {
	switch event.Tool {
	case ToolListTables:
		return "Tool Called: " + ToolListTables
	case ToolSchema:
		return fmt.Sprintf("Tool Called: %s\nTable_name: %s", ToolSchema, event.Args["table_name"])
	case ToolQuery:
		return fmt.Sprintf("Tool Called: %s\nQuery: %s", ToolQuery, event.Args["query"])
	default:
		args, err := json.Marshal(event.Args)
		if err != nil {
			args = []byte("{}")
		}
		return fmt.Sprintf("Tool Called: %s\nArgs: %s", event.Tool, args)
	}
}

// Encode writes one SSE frame: the event line, a data line per payload
// line, then a blank line.
func Encode(w io.Writer, event Event) error {
	name, data := Format(event)
	data = strings.ReplaceAll(data, "\r\n", "\n")
	data = strings.ReplaceAll(data, "\r", "\n")

	var frame strings.Builder
	frame.WriteString("event: ")
	frame.WriteString(name)
	frame.WriteString("\n")
	for _, line := range strings.Split(data, "\n") {
		frame.WriteString("data: ")
		frame.WriteString(line)
		frame.WriteString("\n")
	}
	frame.WriteString("\n")
	_, err := io.WriteString(w, frame.String())
	return err
}

type Frame struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

// Reader reads frames written by Encode as they arrive.
type Reader struct {
	scanner *bufio.Scanner
}

func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Reader{scanner: scanner}
}

// Next returns the next frame, or io.EOF once the stream ends.
func (r *Reader) Next() (Frame, error) {
	var (
		frame   Frame
		data    []string
		started bool
	)
	for r.scanner.Scan() {
		line := r.scanner.Text()
		switch {
		case line == "":
			if started {
				frame.Data = strings.Join(data, "\n")
				return frame, nil
			}
		case strings.HasPrefix(line, "event:"):
			frame.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			started = true
		case strings.HasPrefix(line, "data:"):
			value := strings.TrimPrefix(line, "data:")
			data = append(data, strings.TrimPrefix(value, " "))
			started = true
		}
	}
	if err := r.scanner.Err(); err != nil {
		return Frame{}, err
	}
	if started {
		frame.Data = strings.Join(data, "\n")
		return frame, nil
	}
	return Frame{}, io.EOF
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/quantumauth-io/wc-bridge/internal/history"
	"github.com/quantumauth-io/wc-bridge/internal/notice"
)

func writeJSONOutput(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stateString(state string) string {
	switch state {
	case "ready":
		return color.GreenString(state)
	case "initializing":
		return color.YellowString(state)
	default:
		return color.RedString(state)
	}
}

func statusString(s history.Status) string {
	switch s {
	case history.StatusCompleted:
		return color.GreenString(string(s))
	case history.StatusFailed:
		return color.RedString(string(s))
	default:
		return color.YellowString(string(s))
	}
}

func levelString(l notice.Level) string {
	switch l {
	case notice.LevelSuccess:
		return color.GreenString(string(l))
	case notice.LevelWarning:
		return color.YellowString(string(l))
	case notice.LevelError:
		return color.RedString(string(l))
	default:
		return color.BlueString(string(l))
	}
}

func shortTopic(topic string) string {
	if len(topic) <= 12 {
		return topic
	}
	return topic[:8] + "…" + topic[len(topic)-4:]
}

func since(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func success(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintln(w, color.GreenString("✓ ")+fmt.Sprintf(format, args...))
	return err
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}

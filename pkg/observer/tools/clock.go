package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	_ "time/tzdata"
)

// Clock is the get_time tool.
type Clock struct {
	location *time.Location
	now      func() time.Time
}

type clockArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA timezone name such as Asia/Tokyo. Defaults to the bot's timezone."`
}

// NewClock creates the clock tool. An empty or unknown timezone falls back
// to UTC.
func NewClock(timezone string) *Clock {
	loc, err := time.LoadLocation(timezone)
	if err != nil || timezone == "" {
		loc = time.UTC
	}
	return &Clock{location: loc, now: time.Now}
}

func (c *Clock) Name() string { return "get_time" }

func (c *Clock) Description() string {
	return "Returns the current date and time."
}

func (c *Clock) Parameters() map[string]any { return SchemaFor(&clockArgs{}) }

func (c *Clock) Execute(_ context.Context, raw json.RawMessage) (string, error) {
	args, err := DecodeArgs[clockArgs](raw)
	if err != nil {
		return "", err
	}

	loc := c.location
	if args.Timezone != "" {
		l, err := time.LoadLocation(args.Timezone)
		if err != nil {
			return "", fmt.Errorf("unknown timezone %q", args.Timezone)
		}
		loc = l
	}

	now := c.now().In(loc)
	return JSONResult(map[string]any{
		"time":     now.Format(time.RFC3339),
		"weekday":  now.Weekday().String(),
		"timezone": loc.String(),
		"unix":     now.Unix(),
	})
}

// TextLength is the text_length_tool tool.
type TextLength struct{}

type textLengthArgs struct {
	Text string `json:"text" jsonschema:"description=Input text to calculate its length"`
}

func (TextLength) Name() string { return "text_length_tool" }

func (TextLength) Description() string { return "Returns the length of the input text." }

func (TextLength) Parameters() map[string]any { return SchemaFor(&textLengthArgs{}) }

func (TextLength) Execute(_ context.Context, raw json.RawMessage) (string, error) {
	args, err := DecodeArgs[textLengthArgs](raw)
	if err != nil {
		return "", err
	}
	if args.Text == "" {
		return "", fmt.Errorf("missing 'text' parameter")
	}
	return JSONResult(map[string]int{
		"length":     len(args.Text),
		"characters": len([]rune(args.Text)),
	})
}

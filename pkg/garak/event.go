package garak

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// EntryType is the discriminator carried by every report line in its
// "entry_type" field.
type EntryType string

const (
	EntryStartRun   EntryType = "start_run setup"
	EntryInit       EntryType = "init"
	EntryAttempt    EntryType = "attempt"
	EntryEval       EntryType = "eval"
	EntryDigest     EntryType = "digest"
	EntryCompletion EntryType = "completion"
)

// Event is one decoded report line. The concrete type is one of
// *InitEvent, *AttemptEvent, *EvalEvent, *DigestEvent, *CompletionEvent
// or *IgnoredEvent.
type Event interface {
	EntryType() EntryType
	isEvent()
}

// InitEvent opens a run.
type InitEvent struct {
	GarakVersion string `json:"garak_version"`
	StartTime    string `json:"start_time"`
	Run          string `json:"run"`
}

// AttemptEvent records one probe invocation. The same UUID may appear
// more than once as the attempt moves through its states.
type AttemptEvent struct {
	UUID            string               `json:"uuid"`
	Seq             int                  `json:"seq"`
	Status          int                  `json:"status"`
	ProbeClassname  string               `json:"probe_classname"`
	Goal            string               `json:"goal"`
	Prompt          Prompt               `json:"prompt"`
	Outputs         []*Message           `json:"outputs"`
	DetectorResults map[string][]float64 `json:"detector_results"`
}

// EvalEvent carries pass/total counts for one probe and detector pair.
type EvalEvent struct {
	Probe    string `json:"probe"`
	Detector string `json:"detector"`
	Passed   int    `json:"passed"`
	Total    int    `json:"total"`
}

// DigestEvent is the end-of-run summary. Eval is kept raw and walked by
// the normalizer in document order.
type DigestEvent struct {
	Meta DigestMeta      `json:"meta"`
	Eval json.RawMessage `json:"eval"`
}

// DigestMeta is the identity block of a digest. Newer scanner versions
// report target_* in place of model_*.
type DigestMeta struct {
	GarakVersion string `json:"garak_version"`
	StartTime    string `json:"start_time"`
	RunUUID      string `json:"run_uuid"`
	ProbeSpec    string `json:"probespec"`
	ModelType    string `json:"model_type"`
	ModelName    string `json:"model_name"`
	TargetType   string `json:"target_type"`
	TargetName   string `json:"target_name"`
}

// CompletionEvent closes a run.
type CompletionEvent struct {
	EndTime string `json:"end_time"`
	Run     string `json:"run"`
}

// IgnoredEvent stands in for any entry type that does not contribute to
// the normalized run, including "start_run setup".
type IgnoredEvent struct {
	Type EntryType
}

func (*InitEvent) EntryType() EntryType       { return EntryInit }
func (*AttemptEvent) EntryType() EntryType    { return EntryAttempt }
func (*EvalEvent) EntryType() EntryType       { return EntryEval }
func (*DigestEvent) EntryType() EntryType     { return EntryDigest }
func (*CompletionEvent) EntryType() EntryType { return EntryCompletion }
func (e *IgnoredEvent) EntryType() EntryType  { return e.Type }

func (*InitEvent) isEvent()       {}
func (*AttemptEvent) isEvent()    {}
func (*EvalEvent) isEvent()       {}
func (*DigestEvent) isEvent()     {}
func (*CompletionEvent) isEvent() {}
func (*IgnoredEvent) isEvent()    {}

// DecodeEvent decodes a single report line. Lines that are not JSON
// objects, or whose variant payload does not match its declared type,
// return an error.
func DecodeEvent(raw json.RawMessage) (Event, error) {
	var envelope struct {
		EntryType EntryType `json:"entry_type"`
	}

	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decoding entry envelope: %w", err)
	}

	var ev Event

	switch envelope.EntryType {
	case EntryInit:
		ev = &InitEvent{}
	case EntryAttempt:
		ev = &AttemptEvent{}
	case EntryEval:
		ev = &EvalEvent{}
	case EntryDigest:
		ev = &DigestEvent{}
	case EntryCompletion:
		ev = &CompletionEvent{}
	default:
		return &IgnoredEvent{Type: envelope.EntryType}, nil
	}

	// A field of the wrong type leaves that field zeroed and keeps the
	// rest of the entry. Anything else means the line is not usable.
	if err := json.Unmarshal(raw, ev); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return nil, fmt.Errorf("decoding %s entry: %w", envelope.EntryType, err)
		}
	}

	return ev, nil
}

// Message is a single piece of text exchanged with the target. Older
// reports store bare strings instead of objects; both forms decode.
type Message struct {
	Text string `json:"text"`
	Lang string `json:"lang,omitempty"`
}

// UnmarshalJSON accepts either {"text": ...} or a plain string.
func (m *Message) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &m.Text)
	}

	type plain Message

	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	*m = Message(p)

	return nil
}

// Turn is one role-tagged entry of a prompt.
type Turn struct {
	Role    string  `json:"role"`
	Content Message `json:"content"`
}

// Prompt is the ordered conversation sent to the target.
type Prompt struct {
	Turns []Turn `json:"turns"`
}

// UnmarshalJSON accepts the structured form or a plain string, which is
// treated as a single user turn.
func (p *Prompt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}

		p.Turns = []Turn{{Role: "user", Content: Message{Text: text}}}

		return nil
	}

	type plain Prompt

	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	*p = Prompt(v)

	return nil
}

// UserText returns the text of the first user turn, or "".
func (p Prompt) UserText() string {
	for _, t := range p.Turns {
		if t.Role == "user" {
			return t.Content.Text
		}
	}

	return ""
}

// OutputTexts flattens generations to their text, mapping nil entries
// (failed generations) to "".
func OutputTexts(outputs []*Message) []string {
	texts := make([]string, len(outputs))

	for i, o := range outputs {
		if o != nil {
			texts[i] = o.Text
		}
	}

	return texts
}

package telephony

import (
	"encoding/xml"
	"fmt"
)

// Status values Twilio reports on status callbacks.
const (
	StatusQueued     = "queued"
	StatusInitiated  = "initiated"
	StatusRinging    = "ringing"
	StatusInProgress = "in-progress"
	StatusAnswered   = "answered"
	StatusCompleted  = "completed"
	StatusBusy       = "busy"
	StatusNoAnswer   = "no-answer"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// Turn is one step of a voice conversation rendered as TwiML. Exactly one
// of AudioURL and Text is spoken; AudioURL wins when both are set.
type Turn struct {
	AudioURL  string
	Text      string
	Voice     string
	GatherURL string
	Hangup    bool
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []interface{}
}

type twimlPlay struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlGather struct {
	XMLName       xml.Name `xml:"Gather"`
	Input         string   `xml:"input,attr"`
	Action        string   `xml:"action,attr"`
	Method        string   `xml:"method,attr"`
	SpeechTimeout string   `xml:"speechTimeout,attr"`
	Language      string   `xml:"language,attr,omitempty"`
	Verbs         []interface{}
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// RenderTurn renders t as a TwiML document. Unless t.Hangup is set, the
// prompt is wrapped in a speech Gather that posts the caller's reply to
// t.GatherURL.
func RenderTurn(t Turn) ([]byte, error) {
	var prompt interface{}
	switch {
	case t.AudioURL != "":
		prompt = twimlPlay{URL: t.AudioURL}
	case t.Text != "":
		prompt = twimlSay{Voice: t.Voice, Text: t.Text}
	}

	resp := twimlResponse{}
	if t.Hangup || t.GatherURL == "" {
		if prompt != nil {
			resp.Verbs = append(resp.Verbs, prompt)
		}
		resp.Verbs = append(resp.Verbs, twimlHangup{})
	} else {
		gather := twimlGather{Input: "speech", Action: t.GatherURL, Method: "POST", SpeechTimeout: "auto"}
		if prompt != nil {
			gather.Verbs = append(gather.Verbs, prompt)
		}
		resp.Verbs = append(resp.Verbs, gather)
	}

	out, err := xml.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("render twiml: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

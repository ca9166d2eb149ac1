package models

import (
	"encoding/json"
	"strings"
)

// Link identifies a fetch target. It is either a plain URL, or a URL plus
// extra fetch-tool arguments for raw advanced requests. Two links are the
// same target when their canonical string forms match.
type Link struct {
	URL  string
	Args []string
}

// NewLink creates a Link from a plain URL.
func NewLink(url string) Link {
	return Link{URL: url}
}

// NewRawLink creates a Link carrying extra fetch-tool arguments.
func NewRawLink(url string, args ...string) Link {
	return Link{URL: url, Args: args}
}

// String returns the canonical form used for equality and lookup.
func (l Link) String() string {
	if len(l.Args) == 0 {
		return l.URL
	}
	return l.URL + " " + strings.Join(l.Args, " ")
}

// ToolArgs returns the arguments passed to the fetch tool for this link.
func (l Link) ToolArgs() []string {
	return append([]string{l.URL}, l.Args...)
}

type linkJSON struct {
	URL  string   `json:"url"`
	Args []string `json:"args"`
}

// MarshalJSON keeps plain links as JSON strings, matching the historic state
// file format. Links with extra arguments are stored as an object.
func (l Link) MarshalJSON() ([]byte, error) {
	if len(l.Args) == 0 {
		return json.Marshal(l.URL)
	}
	return json.Marshal(linkJSON{URL: l.URL, Args: l.Args})
}

func (l *Link) UnmarshalJSON(data []byte) error {
	var url string
	if err := json.Unmarshal(data, &url); err == nil {
		l.URL = url
		l.Args = nil
		return nil
	}
	var obj linkJSON
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	l.URL = obj.URL
	l.Args = obj.Args
	return nil
}

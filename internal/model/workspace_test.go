package model

import (
	"slices"
	"testing"
)

func TestChatMessage_ResolveSender(t *testing.T) {
	sender := "7f1c7a5e-7c55-4b0e-a0a8-1c2a3f0d9e11"

	testCases := []struct {
		name     string
		msg      ChatMessage
		fullName string
		wantName string
		wantType string
	}{
		{"system", ChatMessage{MessageType: MessageTypeSystem}, "", "System", MessageTypeSystem},
		{"profile name", ChatMessage{SenderID: &sender, MessageType: MessageTypeText}, "Ada", "Ada", MessageTypeText},
		{"unknown", ChatMessage{SenderID: &sender, MessageType: MessageTypeText}, "", "Unknown User", MessageTypeText},
		{"assistant reply", ChatMessage{SenderID: &sender, MessageType: MessageTypeText, Content: "Nova response: try this"}, "Ada", "Ada", MessageTypeAIResponse},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := tc.msg
			m.ResolveSender(tc.fullName)
			if m.SenderName != tc.wantName {
				t.Errorf("SenderName = %q, want %q", m.SenderName, tc.wantName)
			}
			if m.MessageType != tc.wantType {
				t.Errorf("MessageType = %q, want %q", m.MessageType, tc.wantType)
			}
		})
	}
}

func TestMergeMentions(t *testing.T) {
	a := "11111111-1111-1111-1111-111111111111"
	b := "22222222-2222-2222-2222-222222222222"
	content := "hi @[Bob](" + b + ") and @[Alice](" + a + ")"

	got := MergeMentions([]string{a}, content)
	want := []string{a, b}
	if !slices.Equal(got, want) {
		t.Errorf("MergeMentions = %v, want %v", got, want)
	}

	if got := MergeMentions(nil, "no mentions"); len(got) != 0 {
		t.Errorf("expected no mentions, got %v", got)
	}
}

package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskPhoneNumber(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"+", "+"},
		{"+123", "+***"},
		{"+1234567890", "+******7890"},
		{"5551234", "***1234"},
		{"123", "***"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, MaskPhoneNumber(tt.input))
		})
	}
}

func TestMaskSenderID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"phone", "+15551234567", "+*******4567"},
		{"uuid", "9f2c4b1e-1111-2222-3333-4455aa66bb77", "********-****-****-****-********bb77"},
		{"opaque", "someone", "***eone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MaskSenderID(tt.input))
		})
	}
}

func TestMaskGroupID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"short", "abc", "***"},
		{"base64", "YWJjZGVmZ2hpams=", "YW****ams="},
		{"prefixed", "group.YWJjZGVmZ2hpams=", "group.YW****ams="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MaskGroupID(tt.input))
		})
	}
}

func TestMaskSensitiveFields(t *testing.T) {
	fields := map[string]interface{}{
		"sender_id": "+15551234567",
		"group_id":  "YWJjZGVmZ2hpams=",
		"body":      "secret plans",
		"count":     3,
		"component": "collector",
	}

	masked := MaskSensitiveFields(fields)

	assert.Equal(t, "+*******4567", masked["sender_id"])
	assert.Equal(t, "YW****ams=", masked["group_id"])
	assert.Equal(t, "[hidden]", masked["body"])
	assert.Equal(t, 3, masked["count"])
	assert.Equal(t, "collector", masked["component"])
	assert.Equal(t, "+15551234567", fields["sender_id"], "input must not be modified")
}

func TestMaskSensitiveFields_Nil(t *testing.T) {
	assert.Nil(t, MaskSensitiveFields(nil))
}

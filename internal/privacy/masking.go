package privacy

import (
	"strings"

	"sigsummary/internal/constants"
)

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+1234567890" -> "+******7890"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	if strings.HasPrefix(phone, "+") {
		if len(phone) == 1 {
			return phone
		}
		if len(phone) <= 5 {
			return "+" + strings.Repeat("*", len(phone)-1)
		}
		return "+" + strings.Repeat("*", len(phone)-5) + phone[len(phone)-4:]
	}

	return maskString(phone, constants.DefaultIDMaskLength)
}

// MaskSenderID masks a Signal account identifier. Phone numbers keep their
// last digits, ACI UUIDs keep only the final group.
// Example: "9f2c4b1e-1111-2222-3333-4455aa66bb77" -> "********-****-****-****-********bb77"
func MaskSenderID(senderID string) string {
	if senderID == "" {
		return ""
	}
	if strings.HasPrefix(senderID, "+") {
		return MaskPhoneNumber(senderID)
	}

	if strings.Count(senderID, "-") == 4 {
		parts := strings.Split(senderID, "-")
		for i := 0; i < len(parts)-1; i++ {
			parts[i] = strings.Repeat("*", len(parts[i]))
		}
		parts[len(parts)-1] = maskString(parts[len(parts)-1], constants.DefaultIDMaskLength)
		return strings.Join(parts, "-")
	}

	return maskString(senderID, constants.DefaultIDMaskLength)
}

// MaskGroupID masks a base64 Signal group id, keeping the first and last
// characters so log lines for the same group can still be correlated.
// Example: "group.YWJjZGVmZ2hpams=" -> "group.YW****ams="
func MaskGroupID(groupID string) string {
	if groupID == "" {
		return ""
	}

	prefix := ""
	if strings.HasPrefix(groupID, "group.") {
		prefix = "group."
		groupID = strings.TrimPrefix(groupID, "group.")
	}

	if len(groupID) <= 8 {
		return prefix + strings.Repeat("*", len(groupID))
	}
	return prefix + groupID[:2] + "****" + groupID[len(groupID)-4:]
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if s == "" {
		return ""
	}

	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}

	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

// MaskSensitiveFields applies the matching mask to well-known logging fields.
// Message bodies are replaced entirely.
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			masked[k] = v
			continue
		}

		switch k {
		case "phone", "phone_number", "number":
			masked[k] = MaskPhoneNumber(s)
		case "sender_id", "sender", "reactor_id", "target_author", "user_id":
			masked[k] = MaskSenderID(s)
		case "group_id", "source_group", "target_group", "group":
			masked[k] = MaskGroupID(s)
		case "body", "message", "text", "summary":
			if s != "" {
				masked[k] = "[hidden]"
			} else {
				masked[k] = s
			}
		default:
			masked[k] = v
		}
	}

	return masked
}

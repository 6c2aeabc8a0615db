package domain

// ConversationKey pairs two identities independently of who sends:
// ConversationKey(a, b) == ConversationKey(b, a). It returns "" if either id is empty.
func ConversationKey(a, b string) string {
	if a == "" || b == "" {
		return ""
	}
	if a < b {
		return a + "_" + b
	}
	return b + "_" + a
}

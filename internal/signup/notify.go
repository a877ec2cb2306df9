package signup

// RouteNotificationFor returns the address a notification channel should
// deliver to, or "" when the signup has none for that channel.
func (s *Signup) RouteNotificationFor(channel string) string {
	switch channel {
	case "sms", "phone":
		return s.PhoneE164()
	case "mail", "email":
		for _, key := range []string{"mail", "email"} {
			if v, ok := s.lookupRaw(key).(string); ok && v != "" {
				return v
			}
		}
	}
	return ""
}

// NotificationKey identifies the signup as a notification recipient.
func (s *Signup) NotificationKey() string {
	return "signup:" + s.ID()
}

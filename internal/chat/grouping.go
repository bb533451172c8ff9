package chat

// Group clusters consecutive messages from the same sender into display
// groups: a new group starts at the sequence head and whenever the sender
// differs from the previous message. Pure, single pass, deterministic for a
// given input.
func Group(messages []Message) []MessageGroup {
	if len(messages) == 0 {
		return []MessageGroup{}
	}

	var grouped []MessageGroup
	var current *MessageGroup

	for i, msg := range messages {
		if current != nil && i > 0 && messages[i-1].SenderID == msg.SenderID {
			current.Messages = append(current.Messages, msg.Text)
			continue
		}
		if current != nil {
			grouped = append(grouped, *current)
		}
		current = &MessageGroup{
			ID:            msg.ID,
			SenderID:      msg.SenderID,
			SenderName:    msg.SenderName,
			SenderColor:   msg.SenderColor,
			SenderPicture: msg.SenderPicture,
			Messages:      []string{msg.Text},
		}
	}
	grouped = append(grouped, *current)

	return grouped
}

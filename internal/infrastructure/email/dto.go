package email

// EmailRequest is a single outbound message.
type EmailRequest struct {
	To      []string
	Cc      []string
	Subject string
	Body    string
	IsHTML  bool
}

package service

import (
	"context"
	"strings"

	"owlfenc-backend/internal/domains/contract/model"
	"owlfenc-backend/internal/infrastructure/chat"
	"owlfenc-backend/internal/infrastructure/email"
	"owlfenc-backend/internal/infrastructure/sms"
)

// ================================================
// CHANNEL ADAPTERS
// ================================================

// EmailChannel delivers a Message through an email.EmailService.
type EmailChannel struct {
	sender email.EmailService
}

func NewEmailChannel(sender email.EmailService) *EmailChannel {
	return &EmailChannel{sender: sender}
}

func (c *EmailChannel) Send(ctx context.Context, recipient string, msg Message) (string, error) {
	return c.sender.SendEmail(ctx, email.EmailRequest{
		To:      []string{recipient},
		Subject: msg.Subject,
		Body:    msg.Body,
	})
}

// SMSChannel delivers a short text with the link appended.
type SMSChannel struct {
	sender sms.SMSService
}

func NewSMSChannel(sender sms.SMSService) *SMSChannel {
	return &SMSChannel{sender: sender}
}

func (c *SMSChannel) Send(ctx context.Context, recipient string, msg Message) (string, error) {
	return c.sender.SendSMS(ctx, recipient, shortText(msg))
}

// ChatChannel delivers through a chat gateway.
type ChatChannel struct {
	sender chat.ChatService
}

func NewChatChannel(sender chat.ChatService) *ChatChannel {
	return &ChatChannel{sender: sender}
}

func (c *ChatChannel) Send(ctx context.Context, recipient string, msg Message) (string, error) {
	return c.sender.SendChat(ctx, recipient, shortText(msg))
}

// NewChannelProviders maps each channel to its adapter. A nil sender leaves
// the channel unmapped.
func NewChannelProviders(mail email.EmailService, text sms.SMSService, im chat.ChatService) map[model.Channel]Provider {
	providers := make(map[model.Channel]Provider, 3)
	if mail != nil {
		providers[model.ChannelEmail] = NewEmailChannel(mail)
	}
	if text != nil {
		providers[model.ChannelSMS] = NewSMSChannel(text)
	}
	if im != nil {
		providers[model.ChannelChat] = NewChatChannel(im)
	}
	return providers
}

func shortText(msg Message) string {
	if msg.Link == "" {
		return msg.Subject
	}
	return strings.TrimSpace(msg.Subject) + "\n" + msg.Link
}

// internal/common/gateway/email.go

// Package gateway holds the external delivery contracts: the email
// gateway and the push gateway, with their AWS implementations.
package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"poppins-pipeline/internal/common/errors"
	"poppins-pipeline/internal/models"
)

// EmailMessage is one outbound transactional email.
type EmailMessage struct {
	From       string
	FromName   string
	To         string
	Subject    string
	HTMLBody   string
	Attachment *models.Attachment
}

// EmailGateway sends one email and returns the gateway message id.
type EmailGateway interface {
	Send(ctx context.Context, msg EmailMessage) (string, error)
}

// SESAPI is the slice of the SES client the gateway uses, split out for
// mocking.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
	SendRawEmail(ctx context.Context, params *ses.SendRawEmailInput, optFns ...func(*ses.Options)) (*ses.SendRawEmailOutput, error)
}

// SESGateway delivers email through Amazon SES. Messages without an
// attachment go through SendEmail; attachments need a raw MIME message.
type SESGateway struct {
	client SESAPI
}

func NewSESGateway(client SESAPI) *SESGateway {
	return &SESGateway{client: client}
}

func (g *SESGateway) Send(ctx context.Context, msg EmailMessage) (string, error) {
	if msg.Attachment == nil {
		out, err := g.client.SendEmail(ctx, &ses.SendEmailInput{
			Source: aws.String(formatSender(msg.From, msg.FromName)),
			Destination: &types.Destination{
				ToAddresses: []string{msg.To},
			},
			Message: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject)},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLBody)},
				},
			},
		})
		if err != nil {
			return "", errors.NewEmailGatewayError(err)
		}
		return aws.ToString(out.MessageId), nil
	}

	raw := BuildRawMessage(msg)
	out, err := g.client.SendRawEmail(ctx, &ses.SendRawEmailInput{
		Source:       aws.String(formatSender(msg.From, msg.FromName)),
		Destinations: []string{msg.To},
		RawMessage:   &types.RawMessage{Data: []byte(raw)},
	})
	if err != nil {
		return "", errors.NewEmailGatewayError(err)
	}
	return aws.ToString(out.MessageId), nil
}

func formatSender(addr, name string) string {
	if name == "" {
		return addr
	}
	return fmt.Sprintf("%s <%s>", name, addr)
}

// BuildRawMessage assembles a multipart/mixed MIME message with the
// HTML body and the base64 attachment. The attachment content is
// already base64 in the queue entry and is passed through as-is.
func BuildRawMessage(msg EmailMessage) string {
	const boundary = "PoppinsMimeBoundary"

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", formatSender(msg.From, msg.FromName))
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/mixed; boundary=\"%s\"\r\n", boundary)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("Content-Transfer-Encoding: 8bit\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTMLBody)
	b.WriteString("\r\n")

	contentType := msg.Attachment.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	fmt.Fprintf(&b, "--%s\r\n", boundary)
	fmt.Fprintf(&b, "Content-Type: %s; name=\"%s\"\r\n", contentType, msg.Attachment.Filename)
	b.WriteString("Content-Transfer-Encoding: base64\r\n")
	fmt.Fprintf(&b, "Content-Disposition: attachment; filename=\"%s\"\r\n", msg.Attachment.Filename)
	b.WriteString("\r\n")
	b.WriteString(wrapBase64(msg.Attachment.Content))
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return b.String()
}

// wrapBase64 folds base64 content at 76 columns per RFC 2045.
func wrapBase64(content string) string {
	const width = 76
	var b strings.Builder
	for len(content) > width {
		b.WriteString(content[:width])
		b.WriteString("\r\n")
		content = content[width:]
	}
	b.WriteString(content)
	return b.String()
}

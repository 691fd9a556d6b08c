package gateway

import (
	"context"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"poppins-pipeline/internal/common/errors"
	"poppins-pipeline/internal/models"
)

// ==========================
// Mock SES Implementation
// ==========================

type MockSES struct {
	mock.Mock
}

func (m *MockSES) SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ses.SendEmailOutput), args.Error(1)
}

func (m *MockSES) SendRawEmail(ctx context.Context, params *ses.SendRawEmailInput, optFns ...func(*ses.Options)) (*ses.SendRawEmailOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ses.SendRawEmailOutput), args.Error(1)
}

func testMessage() EmailMessage {
	return EmailMessage{
		From:     "noreply@poppin-s.app",
		FromName: "Les Lutins - Application Poppins",
		To:       "parent@example.com",
		Subject:  "Invitation à l'application Poppins",
		HTMLBody: "<html><body>Bonjour Emma</body></html>",
	}
}

// ==========================
// Gateway Tests
// ==========================

func TestSESGateway_SendWithoutAttachment(t *testing.T) {
	client := new(MockSES)
	client.On("SendEmail", mock.Anything, mock.Anything).
		Return(&ses.SendEmailOutput{MessageId: aws.String("ses-1")}, nil)

	id, err := NewSESGateway(client).Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.Equal(t, "ses-1", id)

	client.AssertNotCalled(t, "SendRawEmail")
	input := client.Calls[0].Arguments.Get(1).(*ses.SendEmailInput)
	assert.Equal(t, "Les Lutins - Application Poppins <noreply@poppin-s.app>", aws.ToString(input.Source))
	assert.Equal(t, []string{"parent@example.com"}, input.Destination.ToAddresses)
}

func TestSESGateway_SendWithAttachmentUsesRawMessage(t *testing.T) {
	client := new(MockSES)
	client.On("SendRawEmail", mock.Anything, mock.Anything).
		Return(&ses.SendRawEmailOutput{MessageId: aws.String("ses-2")}, nil)

	msg := testMessage()
	msg.Attachment = &models.Attachment{
		Filename:    "historique.pdf",
		ContentType: "application/pdf",
		Content:     "JVBERi0xLjQ=",
	}

	id, err := NewSESGateway(client).Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "ses-2", id)
	client.AssertNotCalled(t, "SendEmail")
}

func TestSESGateway_SendFailureIsRetryable(t *testing.T) {
	client := new(MockSES)
	client.On("SendEmail", mock.Anything, mock.Anything).Return(nil, assert.AnError)

	_, err := NewSESGateway(client).Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
	assert.Equal(t, errors.ErrCodeEmailGatewayFailed, errors.CodeOf(err))
}

// ==========================
// MIME Builder Tests
// ==========================

func TestBuildRawMessage(t *testing.T) {
	msg := testMessage()
	msg.Attachment = &models.Attachment{
		Filename:    "historique.pdf",
		ContentType: "application/pdf",
		Content:     strings.Repeat("A", 100),
	}

	raw := BuildRawMessage(msg)

	assert.Contains(t, raw, "From: Les Lutins - Application Poppins <noreply@poppin-s.app>\r\n")
	assert.Contains(t, raw, "To: parent@example.com\r\n")
	assert.Contains(t, raw, `Content-Type: multipart/mixed; boundary="PoppinsMimeBoundary"`)
	assert.Contains(t, raw, "Content-Type: text/html; charset=UTF-8")
	assert.Contains(t, raw, msg.HTMLBody)
	assert.Contains(t, raw, `Content-Type: application/pdf; name="historique.pdf"`)
	assert.Contains(t, raw, `Content-Disposition: attachment; filename="historique.pdf"`)
	assert.True(t, strings.HasSuffix(raw, "--PoppinsMimeBoundary--\r\n"))

	// Base64 content folded at 76 columns.
	assert.Contains(t, raw, strings.Repeat("A", 76)+"\r\n"+strings.Repeat("A", 24))
}

func TestBuildRawMessage_DefaultsContentType(t *testing.T) {
	msg := testMessage()
	msg.Attachment = &models.Attachment{Filename: "blob", Content: "AAAA"}

	raw := BuildRawMessage(msg)
	assert.Contains(t, raw, `Content-Type: application/octet-stream; name="blob"`)
}

func TestFormatSender(t *testing.T) {
	assert.Equal(t, "noreply@poppin-s.app", formatSender("noreply@poppin-s.app", ""))
	assert.Equal(t, "Poppins <noreply@poppin-s.app>", formatSender("noreply@poppin-s.app", "Poppins"))
}

// internal/common/gateway/push.go
package gateway

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"poppins-pipeline/internal/common/errors"
	"poppins-pipeline/internal/models"
)

// ClickAction is merged into every push data payload so the mobile app
// routes the tap to the right screen.
const ClickAction = "FLUTTER_NOTIFICATION_CLICK"

const androidChannel = "high_importance_channel"

// PushMessage is one outbound push notification. Token is the device's
// platform endpoint.
type PushMessage struct {
	Token    string
	Title    string
	Body     string
	Data     map[string]string
	Platform string
}

// PushGateway sends one push and returns the gateway message id.
type PushGateway interface {
	Send(ctx context.Context, msg PushMessage) (string, error)
}

// SNSAPI is the slice of the SNS client the gateway uses.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSGateway delivers push notifications through an SNS platform
// endpoint, with per-platform payloads under MessageStructure json.
type SNSGateway struct {
	client SNSAPI
}

func NewSNSGateway(client SNSAPI) *SNSGateway {
	return &SNSGateway{client: client}
}

func (g *SNSGateway) Send(ctx context.Context, msg PushMessage) (string, error) {
	payload, err := BuildPushPayload(msg)
	if err != nil {
		return "", errors.NewPushGatewayError(err)
	}
	out, err := g.client.Publish(ctx, &sns.PublishInput{
		TargetArn:        aws.String(msg.Token),
		Message:          aws.String(payload),
		MessageStructure: aws.String("json"),
	})
	if err != nil {
		return "", errors.NewPushGatewayError(err)
	}
	return aws.ToString(out.MessageId), nil
}

// BuildPushPayload builds the SNS json message envelope with the
// platform delivery hints: iOS gets badge, default sound and the
// content-available flag; Android gets high priority, the named channel
// and public lockscreen visibility.
func BuildPushPayload(msg PushMessage) (string, error) {
	data := map[string]string{"click_action": ClickAction}
	for k, v := range msg.Data {
		data[k] = v
	}

	apns := map[string]interface{}{
		"aps": map[string]interface{}{
			"alert": map[string]string{
				"title": msg.Title,
				"body":  msg.Body,
			},
			"badge":             1,
			"sound":             "default",
			"content-available": 1,
		},
		"data": data,
	}

	fcm := map[string]interface{}{
		"notification": map[string]interface{}{
			"title":              msg.Title,
			"body":               msg.Body,
			"android_channel_id": androidChannel,
			"visibility":         "public",
		},
		"priority": "high",
		"data":     data,
	}

	envelope := map[string]string{
		"default": msg.Body,
	}

	switch msg.Platform {
	case models.PlatformIOS:
		if err := putJSON(envelope, "APNS", apns); err != nil {
			return "", err
		}
	case models.PlatformAndroid:
		if err := putJSON(envelope, "GCM", fcm); err != nil {
			return "", err
		}
	default:
		// Unknown platform: include both so the endpoint decides.
		if err := putJSON(envelope, "APNS", apns); err != nil {
			return "", err
		}
		if err := putJSON(envelope, "GCM", fcm); err != nil {
			return "", err
		}
	}

	out, err := json.Marshal(envelope)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func putJSON(envelope map[string]string, key string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	envelope[key] = string(data)
	return nil
}

package notify

import (
	"bytes"
	"html/template"
)

const previewMaxChars = 200

var newMessageTmpl = template.Must(template.New("new_message").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><meta name="viewport" content="width=device-width, initial-scale=1.0"></head>
<body style="margin:0;padding:0;background-color:#0a0a0f;font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,sans-serif;">
  <table role="presentation" width="100%" cellpadding="0" cellspacing="0" style="background-color:#0a0a0f;padding:40px 16px;">
    <tr>
      <td align="center">
        <table role="presentation" width="100%" cellpadding="0" cellspacing="0" style="max-width:520px;background-color:#12121a;border:1px solid #1f1f2e;border-radius:16px;padding:32px;">
          <tr>
            <td>
              <p style="margin:0 0 24px 0;font-size:18px;font-weight:bold;color:#f97316;">Picked</p>
              <h1 style="margin:0 0 8px 0;font-size:20px;font-weight:bold;color:#f1f1f4;">You have a new message</h1>
              <p style="margin:0 0 20px 0;font-size:14px;color:#9ca3af;">
                <strong style="color:#f1f1f4;">{{.SenderName}}</strong> sent you a message:
              </p>
              <div style="border-left:3px solid #f97316;background-color:#1a1a2e;padding:12px 16px;border-radius:0 8px 8px 0;margin-bottom:4px;">
                <p style="margin:0;font-size:14px;color:#9ca3af;line-height:1.5;">{{.Preview}}</p>
              </div>
              <table role="presentation" cellpadding="0" cellspacing="0" style="margin:24px auto 0 auto;">
                <tr>
                  <td style="background-color:#f97316;border-radius:10px;">
                    <a href="{{.URL}}" target="_blank" style="display:inline-block;padding:14px 32px;font-size:14px;font-weight:600;color:#ffffff;text-decoration:none;">View Conversation</a>
                  </td>
                </tr>
              </table>
            </td>
          </tr>
        </table>
      </td>
    </tr>
  </table>
</body>
</html>`))

// Email is a rendered notification.
type Email struct {
	Subject string
	HTML    string
	URL     string
}

// RenderNewMessage builds the subject and HTML body for msg. siteURL has no trailing slash.
func RenderNewMessage(siteURL string, msg NewMessage) (Email, error) {
	sender := msg.SenderName
	if sender == "" {
		sender = "Someone"
	}
	url := siteURL + "/dashboard/messages/" + msg.ConversationID

	var buf bytes.Buffer
	err := newMessageTmpl.Execute(&buf, struct {
		SenderName string
		Preview    string
		URL        string
	}{
		SenderName: sender,
		Preview:    truncatePreview(msg.Preview),
		URL:        url,
	})
	if err != nil {
		return Email{}, err
	}
	return Email{
		Subject: "New message from " + sender + " on Picked",
		HTML:    buf.String(),
		URL:     url,
	}, nil
}

func truncatePreview(s string) string {
	r := []rune(s)
	if len(r) <= previewMaxChars {
		return s
	}
	return string(r[:previewMaxChars]) + "..."
}

package service

import (
	"fmt"
	"html"
	"strings"
	"time"

	"aichat/config"

	"gopkg.in/gomail.v2"
)

// EmailService 邮件服务，承担落库死信等运维告警的投递
type EmailService struct {
	cfg *config.EmailConfig
}

// NewEmailService 创建邮件服务
func NewEmailService(cfg *config.EmailConfig) *EmailService {
	return &EmailService{cfg: cfg}
}

// SendOpsAlert 发送运维告警邮件，收件人取配置的 alert_to
func (s *EmailService) SendOpsAlert(subject, body string) error {
	if !s.cfg.Enabled {
		return fmt.Errorf("邮件服务未启用，请配置 EMAIL_ENABLED=true")
	}
	if s.cfg.AlertTo == "" {
		return fmt.Errorf("未配置告警收件人 alert_to")
	}

	return s.sendEmail(s.cfg.AlertTo, "【AI问答服务】"+subject, s.generateAlertBody(subject, body))
}

// generateAlertBody 生成告警邮件内容
func (s *EmailService) generateAlertBody(subject, body string) string {
	escaped := strings.ReplaceAll(html.EscapeString(body), "\n", "<br>")
	return fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; padding: 20px;">
    <h2>⚠️ %s</h2>
    <p>%s</p>
    <p style="color: #666;">时间: %s</p>
    <p style="color: #666;">此邮件由系统自动发送，请勿回复</p>
</body>
</html>
`, html.EscapeString(subject), escaped, time.Now().Format("2006-01-02 15:04:05"))
}

// SendTestEmail 发送测试邮件
func (s *EmailService) SendTestEmail(toEmail string) error {
	if !s.cfg.Enabled {
		return fmt.Errorf("邮件服务未启用")
	}

	subject := "【AI问答服务】邮件配置测试"
	body := `
<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; padding: 20px;">
    <h2>✅ 邮件配置成功</h2>
    <p>如果您收到这封邮件，说明邮件服务配置正确。</p>
    <p style="color: #666;">—— AI问答服务</p>
</body>
</html>
`
	return s.sendEmail(toEmail, subject, body)
}

// sendEmail 发送邮件
func (s *EmailService) sendEmail(to, subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(s.cfg.Username, s.cfg.From))
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	d := gomail.NewDialer(s.cfg.Host, s.cfg.Port, s.cfg.Username, s.cfg.Password)

	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("发送邮件失败: %w", err)
	}

	return nil
}

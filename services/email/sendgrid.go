package emailsvc

import (
	"fmt"
	"net/http"
	"net/mail"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/trezcool/suivi/core"
)

var (
	host     = "https://api.sendgrid.com"
	endpoint = "/v3/mail/send"
)

type sendgridService struct {
	key             string
	from            *sgmail.Email
	subjPrefix      string
	appName         string
	frontendBaseURL string
	logger          core.Logger
}

var _ core.EmailService = (*sendgridService)(nil)

func NewSendgridService(conf *core.Config, logger core.Logger) *sendgridService {
	from := conf.DefaultFromEmail
	return &sendgridService{
		key:             conf.SendgridAPIKey,
		from:            sgmail.NewEmail(from.Name, from.Address),
		subjPrefix:      "[" + conf.AppName + "] ",
		appName:         conf.AppName,
		frontendBaseURL: conf.FrontendBaseURL,
		logger:          logger,
	}
}

func (svc sendgridService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		msg := msg
		go func() {
			if err := msg.Render(svc.appName, svc.frontendBaseURL); err != nil {
				svc.logger.Error(fmt.Sprintf("rendering email: %v", err), err)
				return
			}
			if msg.HasRecipients() && msg.HasContent() {
				svc.send(*msg)
			}
		}()
	}
}

func (svc sendgridService) prepare(msg core.EmailMessage) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	p.Subject = svc.subjPrefix + msg.Subject

	for _, to := range msg.To {
		p.AddTos(svc.getSGEmail(to))
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(svc.from)
	m.AddPersonalizations(p)

	m.AddContent(sgmail.NewContent("text/plain", msg.TextContent))
	if msg.HTMLContent != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTMLContent))
	}
	return m
}

func (svc sendgridService) getSGEmail(addr mail.Address) *sgmail.Email {
	return sgmail.NewEmail(addr.Name, addr.Address)
}

func (svc sendgridService) send(msg core.EmailMessage) {
	req := sendgrid.GetRequest(svc.key, endpoint, host)
	req.Method = http.MethodPost
	req.Body = sgmail.GetRequestBody(svc.prepare(msg))

	res, err := sendgrid.API(req)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("sending email: %v", err), err)
	} else if res.StatusCode >= http.StatusBadRequest {
		svc.logger.Error(fmt.Sprintf("sending email - status: %d - Body: %s", res.StatusCode, res.Body))
	}
}

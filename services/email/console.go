package emailsvc

import (
	"fmt"
	"log"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/suivi/core"
)

var (
	SentMessages = make([]core.EmailMessage, 0)
	mu           sync.Mutex
)

// ResetSentMessages empties SentMessages (tests).
func ResetSentMessages() {
	mu.Lock()
	SentMessages = make([]core.EmailMessage, 0)
	mu.Unlock()
}

// Sent returns a copy of the messages sent so far.
func Sent() []core.EmailMessage {
	mu.Lock()
	defer mu.Unlock()
	return append([]core.EmailMessage(nil), SentMessages...)
}

type consoleService struct {
	appName          string
	frontendBaseURL  string
	defaultFromEmail mail.Address
	subjPrefix       string
	logger           core.Logger
	disableOutput    bool
}

var _ core.EmailService = (*consoleService)(nil)

func newConsoleService(conf *core.Config, logger core.Logger) consoleService {
	return consoleService{
		appName:          conf.AppName,
		frontendBaseURL:  conf.FrontendBaseURL,
		defaultFromEmail: conf.DefaultFromEmail,
		subjPrefix:       "[" + conf.AppName + "] ",
		logger:           logger,
	}
}

// NewConsoleService prints messages to stdout instead of sending them (debug mode).
func NewConsoleService(conf *core.Config, logger core.Logger) *consoleService {
	svc := newConsoleService(conf, logger)
	return &svc
}

func (svc consoleService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		go svc.sendMessage(msg)
	}
}

func (svc consoleService) sendMessage(msg *core.EmailMessage) {
	if err := msg.Render(svc.appName, svc.frontendBaseURL); err != nil {
		svc.logger.Error(fmt.Sprintf("rendering email: %v", err), err)
		return
	}
	if msg.HasRecipients() && msg.HasContent() {
		svc.send(*msg)
		mu.Lock()
		SentMessages = append(SentMessages, *msg)
		mu.Unlock()
	}
}

func (svc consoleService) send(msg core.EmailMessage) {
	body := new(strings.Builder)

	// Write mail header
	_, _ = fmt.Fprintf(body, "From: %s\r\n", svc.defaultFromEmail.String())
	_, _ = fmt.Fprint(body, "MIME-Version: 1.0\r\n")
	_, _ = fmt.Fprintf(body, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	_, _ = fmt.Fprintf(body, "Subject: %s\r\n", svc.subjPrefix+msg.Subject)
	_, _ = fmt.Fprintf(body, "To: %s\r\n", svc.joinAddresses(msg.To))

	altW := multipart.NewWriter(body)
	defer altW.Close()
	_, _ = fmt.Fprintf(body, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", altW.Boundary())

	w, err := altW.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/plain"}})
	if err != nil {
		svc.logger.Error(fmt.Sprintf("creating text/plain part: %v", err), errors.WithStack(err))
		return
	}
	_, _ = fmt.Fprintf(w, "%s\r\n", msg.TextContent)

	if msg.HTMLContent != "" {
		w, err = altW.CreatePart(textproto.MIMEHeader{"Content-Type": {"text/html"}})
		if err != nil {
			svc.logger.Error(fmt.Sprintf("creating text/html part: %v", err), errors.WithStack(err))
			return
		}
		_, _ = fmt.Fprintf(w, "%s\r\n", msg.HTMLContent)
	}

	if !svc.disableOutput {
		log.Println(body.String())
	}
}

func (svc consoleService) joinAddresses(addrs []mail.Address) string {
	toJoin := make([]string, 0, len(addrs))
	for _, a := range addrs {
		toJoin = append(toJoin, a.String())
	}
	return strings.Join(toJoin, ", ")
}

type consoleServiceMock struct {
	consoleService
}

// NewConsoleServiceMock records messages without printing them. Sending is synchronous.
func NewConsoleServiceMock(conf *core.Config, logger core.Logger) *consoleServiceMock {
	svc := newConsoleService(conf, logger)
	svc.disableOutput = true
	return &consoleServiceMock{consoleService: svc}
}

func (svc *consoleServiceMock) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		// run synchronously
		svc.sendMessage(msg)
	}
}

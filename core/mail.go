package core

import (
	"bytes"
	htmltmpl "html/template"
	"net/mail"
	"path"
	"sync"
	texttmpl "text/template"

	"github.com/pkg/errors"

	appfs "github.com/trezcool/suivi/fs"
)

const emailTemplatesDir = "templates/email"

var (
	templates tmplCache
	tmplErr   error
	tmplInit  sync.Once
)

type (
	tmplCacheEntry struct {
		text *texttmpl.Template
		html *htmltmpl.Template
	}
	tmplCache map[string]tmplCacheEntry // {name: entry}

	EmailMessage struct {
		To      []mail.Address
		Subject string
		BodyStr string // simple text/plain, non-templated content

		// templated contents
		TemplateName string // without ext
		TemplateData interface{}
		TextContent  string
		HTMLContent  string
	}

	ContextData struct {
		AppName         string
		FrontendBaseURL string
		Data            interface{}
	}

	// EmailService is any service that can send emails
	EmailService interface {
		// SendMessages sends messages concurrently
		SendMessages(messages ...*EmailMessage)
	}
)

// Render fills TextContent & HTMLContent from BodyStr or the named template.
func (m *EmailMessage) Render(appName, frontendBaseURL string) error {
	if m.BodyStr != "" {
		m.TextContent = m.BodyStr
		return nil
	}
	if m.TemplateName == "" {
		return nil
	}

	tmplInit.Do(parseTemplates) // only parse once, during the first render
	if tmplErr != nil {
		return tmplErr
	}
	entry, ok := templates[m.TemplateName]
	if !ok {
		return errors.Errorf("unknown email template %q", m.TemplateName)
	}

	data := ContextData{AppName: appName, FrontendBaseURL: frontendBaseURL, Data: m.TemplateData}
	if entry.text != nil {
		var buff bytes.Buffer
		if err := entry.text.ExecuteTemplate(&buff, "base", data); err != nil {
			return errors.Wrap(err, "rendering text template")
		}
		m.TextContent = buff.String()
	}
	if entry.html != nil {
		var buff bytes.Buffer
		if err := entry.html.ExecuteTemplate(&buff, "base", data); err != nil {
			return errors.Wrap(err, "rendering html template")
		}
		m.HTMLContent = buff.String()
	}
	return nil
}

func (m *EmailMessage) HasRecipients() bool { return len(m.To) > 0 }
func (m *EmailMessage) HasContent() bool    { return (m.TextContent != "") || (m.HTMLContent != "") }

func parseTemplates() {
	templates = make(tmplCache)

	entries, err := appfs.FS.ReadDir(emailTemplatesDir)
	if err != nil {
		tmplErr = errors.Wrap(err, "reading email templates")
		return
	}
	for _, e := range entries {
		fname := e.Name()
		ext := path.Ext(fname)
		if e.IsDir() || fname[0] == '_' || !(ext == ".txt" || ext == ".gohtml") {
			continue
		}
		name := fname[:len(fname)-len(ext)]
		entry := templates[name]
		fp := path.Join(emailTemplatesDir, fname)

		if ext == ".txt" {
			tmpl, err := texttmpl.ParseFS(appfs.FS, path.Join(emailTemplatesDir, "_base.txt"), fp)
			if err != nil {
				tmplErr = errors.Wrapf(err, "parsing %s", fp)
				return
			}
			entry.text = tmpl.Option("missingkey=error")
		} else {
			tmpl, err := htmltmpl.ParseFS(appfs.FS, path.Join(emailTemplatesDir, "_base.gohtml"), fp)
			if err != nil {
				tmplErr = errors.Wrapf(err, "parsing %s", fp)
				return
			}
			entry.html = tmpl.Option("missingkey=error")
		}
		templates[name] = entry
	}
}

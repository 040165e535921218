package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"sort"
	"strings"
	texttemplate "text/template"
)

// Rendered is a message body ready for a channel sender. Subject and HTML are empty
// for SMS.
type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

type templateSet struct {
	required []string
	subject  string
	text     string
	html     string
	sms      string
}

type view struct {
	App  string
	Name string
	Data map[string]any
}

var funcs = map[string]any{
	"get":  lookup,
	"list": lookupList,
}

var catalog = map[Type]templateSet{
	TypeWelcome: {
		subject: `Welcome to {{.App}}, {{.Name}}`,
		text:    "Hi {{.Name}},\n\nYour {{.App}} account is ready. You will receive weather, crop health and scheme updates here.\n",
		html:    `<p>Hi {{.Name}},</p><p>Your {{.App}} account is ready. You will receive weather, crop health and scheme updates here.</p>`,
		sms:     `Welcome to {{.App}}, {{.Name}}! Your account is ready.`,
	},
	TypeLoginAlert: {
		subject: `New sign-in to your {{.App}} account`,
		text:    "Hi {{.Name}},\n\nWe noticed a sign-in to your account{{with get .Data \"time\"}} at {{.}}{{end}}{{with get .Data \"ip\"}} from {{.}}{{end}}.\nIf this was not you, reset your password.\n",
		html:    `<p>Hi {{.Name}},</p><p>We noticed a sign-in to your account{{with get .Data "time"}} at {{.}}{{end}}{{with get .Data "ip"}} from {{.}}{{end}}.</p><p>If this was not you, reset your password.</p>`,
		sms:     `{{.App}}: new sign-in to your account{{with get .Data "time"}} at {{.}}{{end}}. Not you? Reset your password.`,
	},
	TypeWeatherAlert: {
		required: []string{"location", "condition"},
		subject:  `Weather alert for {{get .Data "location"}}`,
		text:     "Hi {{.Name}},\n\n{{get .Data \"condition\"}} expected in {{get .Data \"location\"}}.{{with get .Data \"advice\"}}\nAdvice: {{.}}{{end}}\n",
		html:     `<p>Hi {{.Name}},</p><p><strong>{{get .Data "condition"}}</strong> expected in {{get .Data "location"}}.</p>{{with get .Data "advice"}}<p>Advice: {{.}}</p>{{end}}`,
		sms:      `{{.App}} weather: {{get .Data "condition"}} in {{get .Data "location"}}.{{with get .Data "advice"}} {{.}}{{end}}`,
	},
	TypeDiseaseAlert: {
		required: []string{"crop", "disease"},
		subject:  `Crop health alert: {{get .Data "disease"}} on {{get .Data "crop"}}`,
		text:     "Hi {{.Name}},\n\n{{get .Data \"disease\"}} has been reported on {{get .Data \"crop\"}}{{with get .Data \"severity\"}} (severity: {{.}}){{end}}.{{with get .Data \"advice\"}}\nRecommended action: {{.}}{{end}}\n",
		html:     `<p>Hi {{.Name}},</p><p>{{get .Data "disease"}} has been reported on {{get .Data "crop"}}{{with get .Data "severity"}} (severity: {{.}}){{end}}.</p>{{with get .Data "advice"}}<p>Recommended action: {{.}}</p>{{end}}`,
		sms:      `{{.App}} alert: {{get .Data "disease"}} on {{get .Data "crop"}}.{{with get .Data "advice"}} {{.}}{{end}}`,
	},
	TypeSchemeNotification: {
		required: []string{"scheme"},
		subject:  `New scheme: {{get .Data "scheme"}}`,
		text:     "Hi {{.Name}},\n\n{{get .Data \"scheme\"}} is now open.{{with get .Data \"description\"}}\n{{.}}{{end}}{{with get .Data \"deadline\"}}\nApply before {{.}}.{{end}}{{with get .Data \"link\"}}\nDetails: {{.}}{{end}}\n",
		html:     `<p>Hi {{.Name}},</p><p>{{get .Data "scheme"}} is now open.</p>{{with get .Data "description"}}<p>{{.}}</p>{{end}}{{with get .Data "deadline"}}<p>Apply before {{.}}.</p>{{end}}{{with get .Data "link"}}<p><a href="{{.}}">Details</a></p>{{end}}`,
		sms:      `{{.App}}: {{get .Data "scheme"}} is open.{{with get .Data "deadline"}} Apply before {{.}}.{{end}}`,
	},
	TypeActivitySummary: {
		subject: `Your {{.App}} activity{{with get .Data "period"}} for {{.}}{{end}}`,
		text:    "Hi {{.Name}},\n\nHere is your activity summary{{with get .Data \"period\"}} for {{.}}{{end}}:\n{{range list .Data \"items\"}}- {{.}}\n{{else}}No activity recorded.\n{{end}}",
		html:    `<p>Hi {{.Name}},</p><p>Here is your activity summary{{with get .Data "period"}} for {{.}}{{end}}:</p>{{with list .Data "items"}}<ul>{{range .}}<li>{{.}}</li>{{end}}</ul>{{else}}<p>No activity recorded.</p>{{end}}`,
		sms:     `{{.App}}: {{len (list .Data "items")}} updates{{with get .Data "period"}} for {{.}}{{end}}.`,
	},
	TypePasswordReset: {
		required: []string{"reset_url"},
		subject:  `Reset your {{.App}} password`,
		text:     "Hi {{.Name}},\n\nUse the link below to choose a new password{{with get .Data \"expires_in\"}}. It expires in {{.}}{{end}}.\n\n{{get .Data \"reset_url\"}}\n\nIf you did not ask for this, ignore this message.\n",
		html:     `<p>Hi {{.Name}},</p><p>Use the link below to choose a new password{{with get .Data "expires_in"}}. It expires in {{.}}{{end}}.</p><p><a href="{{get .Data "reset_url"}}">Reset password</a></p><p>If you did not ask for this, ignore this message.</p>`,
		sms:      `{{.App}}: reset your password at {{get .Data "reset_url"}}`,
	},
}

type compiledSet struct {
	required []string
	subject  *texttemplate.Template
	text     *texttemplate.Template
	html     *htmltemplate.Template
	sms      *texttemplate.Template
}

// Renderer turns a notification type and payload into channel-specific content.
type Renderer struct {
	app  string
	sets map[Type]compiledSet
}

// NewRenderer parses every template. appName is substituted into subjects and bodies.
func NewRenderer(appName string) (*Renderer, error) {
	if strings.TrimSpace(appName) == "" {
		appName = "accessd"
	}

	sets := make(map[Type]compiledSet, len(catalog))
	for typ, set := range catalog {
		compiled, err := compile(typ, set)
		if err != nil {
			return nil, err
		}
		sets[typ] = compiled
	}
	return &Renderer{app: appName, sets: sets}, nil
}

func compile(typ Type, set templateSet) (compiledSet, error) {
	name := string(typ)
	subject, err := texttemplate.New(name + ".subject").Funcs(funcs).Parse(set.subject)
	if err != nil {
		return compiledSet{}, fmt.Errorf("notify: parse %s subject: %w", name, err)
	}
	text, err := texttemplate.New(name + ".text").Funcs(funcs).Parse(set.text)
	if err != nil {
		return compiledSet{}, fmt.Errorf("notify: parse %s text: %w", name, err)
	}
	html, err := htmltemplate.New(name + ".html").Funcs(funcs).Parse(set.html)
	if err != nil {
		return compiledSet{}, fmt.Errorf("notify: parse %s html: %w", name, err)
	}
	sms, err := texttemplate.New(name + ".sms").Funcs(funcs).Parse(set.sms)
	if err != nil {
		return compiledSet{}, fmt.Errorf("notify: parse %s sms: %w", name, err)
	}
	return compiledSet{required: set.required, subject: subject, text: text, html: html, sms: sms}, nil
}

// Render produces content for channel from the template registered for typ.
func (r *Renderer) Render(channel Channel, typ Type, name string, data map[string]any) (Rendered, error) {
	set, ok := r.sets[typ]
	if !ok {
		return Rendered{}, fmt.Errorf("notify: unknown notification type %q", typ)
	}
	if missing := missingKeys(set.required, data); len(missing) > 0 {
		return Rendered{}, fmt.Errorf("notify: %s requires data fields: %s", typ, strings.Join(missing, ", "))
	}

	if strings.TrimSpace(name) == "" {
		name = "there"
	}
	v := view{App: r.app, Name: name, Data: data}

	switch channel {
	case ChannelEmail:
		subject, err := execText(set.subject, v)
		if err != nil {
			return Rendered{}, err
		}
		text, err := execText(set.text, v)
		if err != nil {
			return Rendered{}, err
		}
		var html bytes.Buffer
		if err := set.html.Execute(&html, v); err != nil {
			return Rendered{}, fmt.Errorf("notify: render %s: %w", set.html.Name(), err)
		}
		return Rendered{Subject: strings.TrimSpace(subject), Text: text, HTML: html.String()}, nil
	case ChannelSMS:
		body, err := execText(set.sms, v)
		if err != nil {
			return Rendered{}, err
		}
		return Rendered{Text: strings.TrimSpace(body)}, nil
	default:
		return Rendered{}, fmt.Errorf("notify: unsupported channel %q", channel)
	}
}

func execText(tmpl *texttemplate.Template, v view) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("notify: render %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

func missingKeys(required []string, data map[string]any) []string {
	var missing []string
	for _, key := range required {
		if lookup(data, key) == "" {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	return missing
}

func lookup(data map[string]any, key string) string {
	value, ok := data[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func lookupList(data map[string]any, key string) []string {
	switch items := data[key].(type) {
	case []string:
		return items
	case []any:
		out := make([]string, 0, len(items))
		for _, item := range items {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case nil:
		return nil
	default:
		return []string{fmt.Sprint(items)}
	}
}

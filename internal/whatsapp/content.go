// Package whatsapp builds WhatsApp Cloud API payloads and sends them through
// shared provider credentials.
package whatsapp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/example/message-gateway/internal/domain"
	"github.com/example/message-gateway/internal/jsonpath"
)

const defaultTemplateLanguage = "en_US"

// ContentError marks content that can never be sent as given.
type ContentError struct {
	Field  string
	Reason string
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("invalid whatsapp content: %s %s", e.Field, e.Reason)
}

// Content is one of Text, Template, Image, Video, Audio, Document, Location or Interactive.
type Content interface {
	kind() string
}

type Text struct {
	Body       string
	PreviewURL bool
}

type Template struct {
	Name       string
	Language   string
	Components []any
}

// Media addresses an uploaded asset by ID or a public asset by Link.
type Media struct {
	Link string
	ID   string
}

type Image struct {
	Media
	Caption string
}

type Video struct {
	Media
	Caption string
}

type Audio struct {
	Media
}

type Document struct {
	Media
	Caption  string
	Filename string
}

type Location struct {
	Latitude  float64
	Longitude float64
	Name      string
	Address   string
}

type Interactive struct {
	Object map[string]any
}

func (Text) kind() string        { return "text" }
func (Template) kind() string    { return "template" }
func (Image) kind() string       { return "image" }
func (Video) kind() string       { return "video" }
func (Audio) kind() string       { return "audio" }
func (Document) kind() string    { return "document" }
func (Location) kind() string    { return "location" }
func (Interactive) kind() string { return "interactive" }

// ContentFromMessage maps a stored message onto its content variant.
func ContentFromMessage(m domain.Message) (Content, error) {
	media := Media{Link: m.MediaURL, ID: m.MediaID}
	caption := m.MediaCaption
	if caption == "" {
		caption = m.Content
	}

	switch m.ContentType {
	case domain.ContentText, "":
		return Text{Body: m.Content}, nil
	case domain.ContentBoth:
		return Image{Media: media, Caption: m.Content}, nil
	case domain.ContentImage:
		return Image{Media: media, Caption: caption}, nil
	case domain.ContentVideo:
		return Video{Media: media, Caption: caption}, nil
	case domain.ContentAudio:
		return Audio{Media: media}, nil
	case domain.ContentDocument:
		return Document{Media: media, Caption: caption, Filename: m.MediaFilename}, nil
	case domain.ContentLocation:
		if m.Latitude == nil || m.Longitude == nil {
			return nil, &ContentError{Field: "location", Reason: "requires latitude and longitude"}
		}
		return Location{Latitude: *m.Latitude, Longitude: *m.Longitude, Name: m.LocationName, Address: m.LocationAddress}, nil
	case domain.ContentTemplate:
		var comps []any
		if len(m.TemplateComponents) > 0 && string(m.TemplateComponents) != "null" {
			v, err := jsonpath.Parse(m.TemplateComponents)
			if err != nil {
				return nil, &ContentError{Field: "template.components", Reason: "is not valid JSON"}
			}
			list, ok := v.([]any)
			if !ok {
				return nil, &ContentError{Field: "template.components", Reason: "must be an array"}
			}
			comps = list
		}
		return Template{Name: m.TemplateName, Language: m.TemplateLanguage, Components: comps}, nil
	case domain.ContentInteractive:
		if len(m.Interactive) == 0 {
			return nil, &ContentError{Field: "interactive", Reason: "is required"}
		}
		v, err := jsonpath.Parse(m.Interactive)
		if err != nil {
			return nil, &ContentError{Field: "interactive", Reason: "is not valid JSON"}
		}
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, &ContentError{Field: "interactive", Reason: "must be an object"}
		}
		return Interactive{Object: obj}, nil
	}
	return nil, &ContentError{Field: "contentType", Reason: fmt.Sprintf("%q is not supported", m.ContentType)}
}

// BuildPayload renders c as a Cloud API message object addressed to to.
func BuildPayload(to string, c Content) (map[string]any, error) {
	if strings.TrimSpace(to) == "" {
		return nil, &ContentError{Field: "to", Reason: "is required"}
	}
	body, err := contentBody(c)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              c.kind(),
		c.kind():            body,
	}, nil
}

// Validate checks the required fields of c without addressing it.
func Validate(c Content) error {
	_, err := contentBody(c)
	return err
}

func contentBody(c Content) (map[string]any, error) {
	var body map[string]any
	switch v := c.(type) {
	case Text:
		if strings.TrimSpace(v.Body) == "" {
			return nil, &ContentError{Field: "text.body", Reason: "is required"}
		}
		body = map[string]any{"preview_url": v.PreviewURL, "body": v.Body}
	case Template:
		if v.Name == "" {
			return nil, &ContentError{Field: "template.name", Reason: "is required"}
		}
		lang := v.Language
		if lang == "" {
			lang = defaultTemplateLanguage
		}
		body = map[string]any{"name": v.Name, "language": map[string]any{"code": lang}}
		if len(v.Components) > 0 {
			body["components"] = v.Components
		}
	case Image:
		m, err := mediaObject("image", v.Media)
		if err != nil {
			return nil, err
		}
		withOptional(m, "caption", v.Caption)
		body = m
	case Video:
		m, err := mediaObject("video", v.Media)
		if err != nil {
			return nil, err
		}
		withOptional(m, "caption", v.Caption)
		body = m
	case Audio:
		m, err := mediaObject("audio", v.Media)
		if err != nil {
			return nil, err
		}
		body = m
	case Document:
		m, err := mediaObject("document", v.Media)
		if err != nil {
			return nil, err
		}
		withOptional(m, "caption", v.Caption)
		withOptional(m, "filename", v.Filename)
		body = m
	case Location:
		if v.Latitude < -90 || v.Latitude > 90 || v.Longitude < -180 || v.Longitude > 180 {
			return nil, &ContentError{Field: "location", Reason: "coordinates out of range"}
		}
		body = map[string]any{"latitude": v.Latitude, "longitude": v.Longitude}
		withOptional(body, "name", v.Name)
		withOptional(body, "address", v.Address)
	case Interactive:
		if v.Object == nil {
			return nil, &ContentError{Field: "interactive", Reason: "is required"}
		}
		if t, _ := v.Object["type"].(string); t == "" {
			return nil, &ContentError{Field: "interactive.type", Reason: "is required"}
		}
		body = v.Object
	default:
		return nil, &ContentError{Field: "content", Reason: fmt.Sprintf("%T is not supported", c)}
	}

	return body, nil
}

func mediaObject(kind string, m Media) (map[string]any, error) {
	switch {
	case m.ID != "":
		return map[string]any{"id": m.ID}, nil
	case m.Link != "":
		return map[string]any{"link": m.Link}, nil
	}
	return nil, &ContentError{Field: kind, Reason: "requires a media link or id"}
}

func withOptional(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

func marshalPayload(p map[string]any) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal whatsapp payload: %w", err)
	}
	return string(raw), nil
}

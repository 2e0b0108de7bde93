package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"genstudio/internal/domain"
	"genstudio/internal/domain/jsoncfg"
	"genstudio/internal/middleware"
)

const multipartMemory = 32 << 20

// Generate handles POST /generate. The body is either the JSON contract or a
// multipart form carrying the same fields plus files under "references",
// "template_image" and "logo".
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		a.writeError(w, r, domain.ErrUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.bodyLimit())
	payload, err := a.decode(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			err = domain.Validation("request body exceeds %d bytes", tooLarge.Limit)
		}
		a.writeError(w, r, err)
		return
	}

	payload.Normalize(middleware.LocaleFromContext(r.Context()))
	if err := payload.Validate(a.Limits.MaxReferences); err != nil {
		a.writeError(w, r, domain.Validation("%s", err.Error()))
		return
	}
	if err := a.checkSizes(payload); err != nil {
		a.writeError(w, r, err)
		return
	}
	req, err := payload.ToRequest(userID)
	if err != nil {
		a.writeError(w, r, domain.Validation("%s", err.Error()))
		return
	}
	req.Country = middleware.CountryFromContext(r.Context())

	ctx := r.Context()
	if a.Limits.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Limits.RequestTimeout)
		defer cancel()
	}
	res, err := a.Generator.Generate(ctx, req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, res)
}

// bodyLimit leaves room for base64 inflation of inline JSON images.
func (a *App) bodyLimit() int64 {
	return a.Limits.MaxTotalBytes*4/3 + 1<<20
}

func (a *App) decode(r *http.Request) (jsoncfg.GenerateJSON, error) {
	var payload jsoncfg.GenerateJSON
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		return a.decodeMultipart(r)
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return payload, err
		}
		return payload, domain.Validation("invalid payload: %v", err)
	}
	return payload, nil
}

func (a *App) decodeMultipart(r *http.Request) (jsoncfg.GenerateJSON, error) {
	var payload jsoncfg.GenerateJSON
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return payload, err
		}
		return payload, domain.Validation("invalid multipart form: %v", err)
	}
	defer r.MultipartForm.RemoveAll()

	if raw := strings.TrimSpace(r.FormValue("payload")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return payload, domain.Validation("invalid payload field: %v", err)
		}
	} else {
		payload = formPayload(r.MultipartForm)
	}

	for _, fh := range r.MultipartForm.File["references"] {
		ref, err := a.readFile(fh)
		if err != nil {
			return payload, err
		}
		payload.References = append(payload.References, ref)
	}
	if fhs := r.MultipartForm.File["template_image"]; len(fhs) > 0 {
		ref, err := a.readFile(fhs[0])
		if err != nil {
			return payload, err
		}
		if payload.Template == nil {
			payload.Template = &jsoncfg.TemplateJSON{}
		}
		payload.Template.Image = ref
	}
	if fhs := r.MultipartForm.File["logo"]; len(fhs) > 0 {
		ref, err := a.readFile(fhs[0])
		if err != nil {
			return payload, err
		}
		payload.Logo = &ref
	}
	return payload, nil
}

func formPayload(form *multipart.Form) jsoncfg.GenerateJSON {
	get := func(key string) string {
		if v := form.Value[key]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	flag := func(key string) bool {
		b, _ := strconv.ParseBool(get(key))
		return b
	}
	g := jsoncfg.GenerateJSON{
		MediaKind:    get("media_kind"),
		AspectRatio:  get("aspect_ratio"),
		Model:        get("model"),
		Instructions: get("prompt"),
		Industry:     get("industry"),
		Locale:       get("locale"),
		Copy: jsoncfg.CopyJSON{
			Headline:     get("headline"),
			Subheadline:  get("subheadline"),
			CTA:          get("cta"),
			Promotion:    get("promotion"),
			BusinessName: get("business_name"),
		},
		Subject: jsoncfg.SubjectJSON{
			Lock:        flag("subject_lock"),
			Mode:        get("subject_mode"),
			KeepOutfit:  flag("keep_outfit"),
			ForceCutout: flag("force_cutout"),
			Outfit:      get("outfit"),
		},
	}
	for _, u := range form.Value["reference_urls"] {
		if u = strings.TrimSpace(u); u != "" {
			g.References = append(g.References, jsoncfg.ImageRefJSON{URL: u})
		}
	}
	if id, u := get("template_id"), get("template_url"); id != "" || u != "" {
		g.Template = &jsoncfg.TemplateJSON{ID: id, Image: jsoncfg.ImageRefJSON{URL: u}}
	}
	if u := get("logo_url"); u != "" {
		g.Logo = &jsoncfg.ImageRefJSON{URL: u}
	}
	return g
}

func (a *App) readFile(fh *multipart.FileHeader) (jsoncfg.ImageRefJSON, error) {
	if fh.Size > a.Limits.MaxFileBytes {
		return jsoncfg.ImageRefJSON{}, fileTooLarge(fh.Filename, a.Limits.MaxFileBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return jsoncfg.ImageRefJSON{}, fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, a.Limits.MaxFileBytes+1))
	if err != nil {
		return jsoncfg.ImageRefJSON{}, fmt.Errorf("read upload %s: %w", fh.Filename, err)
	}
	if int64(len(data)) > a.Limits.MaxFileBytes {
		return jsoncfg.ImageRefJSON{}, fileTooLarge(fh.Filename, a.Limits.MaxFileBytes)
	}
	return jsoncfg.ImageRefJSON{
		Data:     data,
		MIME:     fh.Header.Get("Content-Type"),
		Filename: fh.Filename,
	}, nil
}

func (a *App) checkSizes(payload jsoncfg.GenerateJSON) error {
	var total int64
	for _, n := range payload.DecodedBytes() {
		if int64(n) > a.Limits.MaxFileBytes {
			return fileTooLarge("", a.Limits.MaxFileBytes)
		}
		total += int64(n)
	}
	if total > a.Limits.MaxTotalBytes {
		e := domain.Validation("uploads exceed %d bytes in total", a.Limits.MaxTotalBytes)
		e.Details = map[string]any{"limit": a.Limits.MaxTotalBytes}
		return e
	}
	return nil
}

func fileTooLarge(name string, limit int64) error {
	e := domain.Validation("each image must be at most %d bytes", limit)
	if name != "" {
		e = domain.Validation("%s exceeds %d bytes", name, limit)
	}
	e.Details = map[string]any{"limit": limit}
	return e
}

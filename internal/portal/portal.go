// Package portal is the HTTP client for the PESU Academy student portal.
// The portal has no JSON API for course material: listings come back as
// HTML option tags (sometimes JSON-encoded), and documents hide behind
// onclick handlers, so the client is part scraper.
package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

// ErrAuthentication indicates login failed or the session is no longer valid.
var ErrAuthentication = errors.New("portal authentication failed")

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// Subject is one entry from the portal's subject code listing.
type Subject struct {
	ID          string
	SubjectCode string
	SubjectName string
}

// Unit is one unit of a course.
type Unit struct {
	ID   string
	Name string
}

// Class is one class within a unit.
type Class struct {
	ID   string
	Name string
}

// FileLink is a download candidate extracted from a class materials page.
type FileLink struct {
	Text string
	URL  string
}

// Stream is a downloadable document payload. The caller owns Body.
type Stream struct {
	Body        io.ReadCloser
	ContentType string
	// Filename is the server-suggested name from Content-Disposition,
	// empty when the server sent none.
	Filename string
}

// Client talks to the portal over an authenticated cookie session.
type Client struct {
	baseURL       *url.URL
	http          *resty.Client
	jar           http.CookieJar
	logger        *slog.Logger
	authenticated bool
}

// ClientOptions configures a portal client.
type ClientOptions struct {
	// BaseURL is the portal application root, e.g.
	// https://www.pesuacademy.com/Academy
	BaseURL string
	Logger  *slog.Logger
}

// NewClient creates an unauthenticated portal client.
func NewClient(opts ClientOptions) (*Client, error) {
	baseURL, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid portal base URL: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseURL)
	client.SetCookieJar(jar)
	client.SetTimeout(30 * time.Second)
	client.SetHeader("User-Agent", userAgent)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseURL.Hostname()))

	return &Client{
		baseURL: baseURL,
		http:    client,
		jar:     jar,
		logger:  logger,
	}, nil
}

// Authenticated reports whether the client holds a validated session.
func (c *Client) Authenticated() bool {
	return c.authenticated
}

var (
	csrfJSPattern   = regexp.MustCompile(`_csrf['"]?\s*[:=]\s*['"]([0-9a-fA-F-]{8,})['"]`)
	csrfUUIDPattern = regexp.MustCompile(`(?i)([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})`)
)

// extractCSRF pulls a CSRF token out of a login page: hidden input, meta
// tag, inline JS assignment, then any UUID-shaped value as a last resort.
func extractCSRF(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err == nil {
		if token := doc.Find("input[name=_csrf]").AttrOr("value", ""); token != "" {
			return token, nil
		}
		for _, name := range []string{"_csrf", "csrf-token", "csrf"} {
			if token := doc.Find(fmt.Sprintf("meta[name=%q]", name)).AttrOr("content", ""); token != "" {
				return token, nil
			}
		}
	}
	if m := csrfJSPattern.FindStringSubmatch(html); m != nil {
		return m[1], nil
	}
	if m := csrfUUIDPattern.FindStringSubmatch(html); m != nil {
		return m[1], nil
	}
	return "", fmt.Errorf("%w: CSRF token not found in login page", ErrAuthentication)
}

// sessionCookie reports whether the jar holds a portal session cookie.
func (c *Client) sessionCookie() bool {
	for _, cookie := range c.jar.Cookies(c.baseURL) {
		if cookie.Name == "JSESSIONID" || cookie.Name == "SESSION" {
			return true
		}
	}
	return false
}

// csrfCookie returns a CSRF token from the cookie jar, if any.
func (c *Client) csrfCookie() string {
	for _, cookie := range c.jar.Cookies(c.baseURL) {
		if cookie.Name == "XSRF-TOKEN" || cookie.Name == "CSRF-TOKEN" {
			return cookie.Value
		}
	}
	return ""
}

// Login authenticates against the Spring Security endpoint. Success is
// detected from the session cookie first, then from profile content in the
// response, then by a profile page probe.
func (c *Client) Login(ctx context.Context, username, password string) error {
	res, err := c.http.R().
		SetContext(ctx).
		Get("/")
	if err != nil {
		return fmt.Errorf("%w: failed to fetch login page: %v", ErrAuthentication, err)
	}

	token, err := extractCSRF(string(res.Body()))
	if err != nil {
		token = c.csrfCookie()
		if token == "" {
			return fmt.Errorf("%w: no CSRF token in page or cookies", ErrAuthentication)
		}
	}

	res, err = c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"j_username": username,
			"j_password": password,
			"_csrf":      token,
		}).
		SetHeader("Referer", c.baseURL.String()+"/").
		SetHeader("Origin", c.baseURL.Scheme+"://"+c.baseURL.Host).
		Post("/j_spring_security_check")
	if err != nil {
		return fmt.Errorf("%w: login request failed: %v", ErrAuthentication, err)
	}

	if c.sessionCookie() {
		c.authenticated = true
		c.logger.Debug("authenticated via session cookie")
		return nil
	}

	body := strings.ToLower(string(res.Body()))
	if strings.Contains(body, "studentprofile") || strings.Contains(body, "logout") {
		c.authenticated = true
		c.logger.Debug("authenticated via profile content in login response")
		return nil
	}
	if strings.Contains(body, "j_username") ||
		strings.Contains(body, "j_spring_security_check") ||
		(strings.Contains(body, "invalid") && strings.Contains(body, "login")) {
		return fmt.Errorf("%w: login page returned after credentials POST", ErrAuthentication)
	}

	if err := c.validateSession(ctx); err != nil {
		return err
	}
	c.authenticated = true
	c.logger.Debug("authenticated via profile probe")
	return nil
}

// validateSession probes the student profile page for signs of a live
// session. Some portal deployments 404 internal pages while a session
// cookie is still valid, so that combination passes with a warning.
func (c *Client) validateSession(ctx context.Context) error {
	res, err := c.http.R().
		SetContext(ctx).
		Get("/s/studentProfilePESU")
	if err != nil {
		return fmt.Errorf("%w: profile probe failed: %v", ErrAuthentication, err)
	}

	body := strings.ToLower(string(res.Body()))
	switch {
	case res.StatusCode() == http.StatusOK:
		if strings.Contains(body, "studentprofile") || strings.Contains(body, "logout") {
			return nil
		}
		if strings.Contains(body, "j_username") {
			return fmt.Errorf("%w: login form returned for profile page", ErrAuthentication)
		}
		return fmt.Errorf("%w: unexpected profile response", ErrAuthentication)
	case res.StatusCode() == http.StatusNotFound:
		if c.sessionCookie() {
			c.logger.Warn("profile page returned 404 but session cookie present, assuming authenticated")
			return nil
		}
		return fmt.Errorf("%w: profile page not found", ErrAuthentication)
	default:
		return fmt.Errorf("%w: profile probe returned HTTP %d", ErrAuthentication, res.StatusCode())
	}
}

// Logout terminates the portal session. Errors are logged, not returned;
// the session dies with the process either way.
func (c *Client) Logout(ctx context.Context) {
	if _, err := c.http.R().SetContext(ctx).Get("/logout"); err != nil {
		c.logger.Warn("logout request failed", "error", err)
	}
	c.authenticated = false
}

// cleanID strips the backslashes and quotes the portal sometimes leaves in
// option values.
func cleanID(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, `\"`, "")
	s = strings.ReplaceAll(s, `\'`, "")
	s = strings.Trim(s, `"'`)
	return strings.ReplaceAll(s, `\`, "")
}

// unwrapHTML returns the HTML payload of a listing response. Some endpoints
// return the HTML as a JSON-encoded string.
func unwrapHTML(res *resty.Response) string {
	body := string(res.Body())
	if !strings.HasPrefix(res.Header().Get("Content-Type"), "application/json") {
		return body
	}
	var html string
	if err := json.Unmarshal([]byte(strings.TrimSpace(body)), &html); err == nil {
		return html
	}
	return body
}

// option is a parsed <option> element.
type option struct {
	value string
	text  string
}

func parseOptions(html string) ([]option, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse listing HTML: %w", err)
	}
	var options []option
	doc.Find("option").Each(func(_ int, sel *goquery.Selection) {
		value := cleanID(sel.AttrOr("value", ""))
		text := strings.TrimSpace(sel.Text())
		if value != "" && text != "" {
			options = append(options, option{value: value, text: text})
		}
	})
	return options, nil
}

// Subjects lists every course the account can see.
func (c *Client) Subjects(ctx context.Context) ([]Subject, error) {
	res, err := c.http.R().
		SetContext(ctx).
		Get("/a/g/getSubjectsCode")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subject codes: %w", err)
	}

	options, err := parseOptions(unwrapHTML(res))
	if err != nil {
		return nil, err
	}

	subjects := make([]Subject, 0, len(options))
	for _, opt := range options {
		code := opt.text
		if idx := strings.Index(code, "-"); idx >= 0 {
			code = code[:idx]
		}
		subjects = append(subjects, Subject{
			ID:          opt.value,
			SubjectCode: strings.TrimSpace(code),
			SubjectName: opt.text,
		})
	}
	if len(subjects) == 0 {
		return nil, errors.New("no subjects found in portal response")
	}
	return subjects, nil
}

// CourseUnits lists the units of a course.
func (c *Client) CourseUnits(ctx context.Context, courseID string) ([]Unit, error) {
	res, err := c.http.R().
		SetContext(ctx).
		Get("/a/i/getCourse/" + url.PathEscape(courseID))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch units for course %s: %w", courseID, err)
	}

	options, err := parseOptions(unwrapHTML(res))
	if err != nil {
		return nil, err
	}

	units := make([]Unit, 0, len(options))
	for _, opt := range options {
		units = append(units, Unit{ID: opt.value, Name: opt.text})
	}
	return units, nil
}

// UnitClasses lists the classes of a unit.
func (c *Client) UnitClasses(ctx context.Context, unitID string) ([]Class, error) {
	res, err := c.http.R().
		SetContext(ctx).
		Get("/a/i/getCourseClasses/" + url.PathEscape(unitID))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch classes for unit %s: %w", unitID, err)
	}

	options, err := parseOptions(unwrapHTML(res))
	if err != nil {
		return nil, err
	}

	classes := make([]Class, 0, len(options))
	for _, opt := range options {
		classes = append(classes, Class{ID: opt.value, Name: opt.text})
	}
	return classes, nil
}

var (
	courseDocPattern  = regexp.MustCompile(`downloadcoursedoc\('([^']+)'`)
	loadIframePattern = regexp.MustCompile(`loadIframe\('([^']+)'`)
)

// ClassFiles resolves the download candidates for a class. The materials
// endpoint either serves the document inline (returned as a Stream, links
// nil) or an HTML page whose links are extracted and normalized. An HTML
// page with no recognizable links yields an empty slice, not an error.
func (c *Client) ClassFiles(ctx context.Context, courseID, classID string) ([]FileLink, *Stream, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetQueryParams(map[string]string{
			"url":            "studentProfilePESUAdmin",
			"controllerMode": "6403",
			"actionType":     "60",
			"selectedData":   courseID,
			"id":             "2",
			"unitid":         classID,
		}).
		Get("/s/studentProfilePESUAdmin")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch class materials for class %s: %w", classID, err)
	}

	contentType := res.Header().Get("Content-Type")
	if strings.Contains(contentType, "application/pdf") {
		return nil, &Stream{
			Body:        res.RawBody(),
			ContentType: contentType,
			Filename:    dispositionFilename(res.Header().Get("Content-Disposition")),
		}, nil
	}

	defer res.RawBody().Close()
	body, err := io.ReadAll(res.RawBody())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read class materials page: %w", err)
	}

	links, err := c.extractLinks(string(body))
	if err != nil {
		return nil, nil, err
	}
	return links, nil, nil
}

// extractLinks scans a class materials page for document links: onclick
// handlers calling downloadcoursedoc or loadIframe, plus plain hrefs into
// the reference materials area. Duplicate URLs are dropped in order.
func (c *Client) extractLinks(html string) ([]FileLink, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse class materials page: %w", err)
	}

	var links []FileLink
	add := func(text, raw string) {
		raw = strings.SplitN(raw, "#", 2)[0]
		if raw == "" {
			return
		}
		if text == "" {
			text = "Course Document"
		}
		links = append(links, FileLink{Text: text, URL: c.absoluteURL(raw)})
	}

	doc.Find("[onclick]").Each(func(_ int, sel *goquery.Selection) {
		onclick := sel.AttrOr("onclick", "")
		text := strings.TrimSpace(sel.Text())

		if strings.Contains(onclick, "downloadcoursedoc") {
			if m := courseDocPattern.FindStringSubmatch(onclick); m != nil {
				add(text, "/Academy/s/referenceMeterials/downloadcoursedoc/"+m[1])
				return
			}
		}
		if strings.Contains(onclick, "downloadslidecoursedoc") {
			if m := loadIframePattern.FindStringSubmatch(onclick); m != nil {
				add(text, m[1])
			}
		}
	})

	doc.Find("a").Each(func(_ int, sel *goquery.Selection) {
		href := sel.AttrOr("href", "")
		text := strings.TrimSpace(sel.Text())

		if strings.Contains(href, "downloadslidecoursedoc") {
			add(text, href)
			return
		}
		if strings.Contains(href, "referenceMeterials") || strings.Contains(strings.ToLower(href), "download") {
			add(text, href)
		}
	})

	seen := make(map[string]bool, len(links))
	unique := links[:0]
	for _, link := range links {
		if seen[link.URL] {
			continue
		}
		seen[link.URL] = true
		unique = append(unique, link)
	}
	return unique, nil
}

// absoluteURL turns a scraped link into an absolute URL. Paths under
// /Academy resolve against the portal origin rather than the base URL, so
// /Academy does not double up.
func (c *Client) absoluteURL(raw string) string {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	origin := c.baseURL.Scheme + "://" + c.baseURL.Host
	if strings.HasPrefix(raw, "/Academy") {
		return origin + raw
	}
	return strings.TrimRight(c.baseURL.String(), "/") + "/" + strings.TrimLeft(raw, "/")
}

// Fetch downloads a resolved link. The Referer header is required: slide
// document URLs 403 without it.
func (c *Client) Fetch(ctx context.Context, link FileLink) (*Stream, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader("Referer", strings.TrimRight(c.baseURL.String(), "/")+"/s/studentProfilePESU").
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8").
		Get(link.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", link.URL, err)
	}
	if res.StatusCode() >= 400 {
		res.RawBody().Close()
		return nil, fmt.Errorf("download of %s returned HTTP %d", link.URL, res.StatusCode())
	}

	return &Stream{
		Body:        res.RawBody(),
		ContentType: res.Header().Get("Content-Type"),
		Filename:    dispositionFilename(res.Header().Get("Content-Disposition")),
	}, nil
}

// dispositionFilename extracts a filename from a Content-Disposition header.
func dispositionFilename(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	return params["filename"]
}

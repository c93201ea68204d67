package portal

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(ClientOptions{BaseURL: srv.URL})
	require.NoError(t, err)
	return client, srv
}

func TestExtractCSRF(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{
			name: "hidden input",
			html: `<form><input type="hidden" name="_csrf" value="tok-input"/></form>`,
			want: "tok-input",
		},
		{
			name: "meta tag",
			html: `<head><meta name="csrf-token" content="tok-meta"/></head>`,
			want: "tok-meta",
		},
		{
			name: "js assignment",
			html: `<script>var _csrf = 'deadbeef-cafe';</script>`,
			want: "deadbeef-cafe",
		},
		{
			name: "uuid fallback",
			html: `<p>token 6f1c1a2b-3c4d-5e6f-7a8b-9c0d1e2f3a4b appears somewhere</p>`,
			want: "6f1c1a2b-3c4d-5e6f-7a8b-9c0d1e2f3a4b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractCSRF(tt.html)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	t.Run("missing", func(t *testing.T) {
		_, err := extractCSRF(`<html><body>nothing here</body></html>`)
		require.ErrorIs(t, err, ErrAuthentication)
	})
}

func TestLoginSessionCookie(t *testing.T) {
	var gotUser, gotToken string

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<form><input name="_csrf" value="tok-1"/></form>`)
	})
	mux.HandleFunc("/j_spring_security_check", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotUser = r.FormValue("j_username")
		gotToken = r.FormValue("_csrf")
		http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "abc123", Path: "/"})
		io.WriteString(w, "welcome")
	})

	client, _ := newTestClient(t, mux)
	require.NoError(t, client.Login(context.Background(), "alice", "secret"))
	require.True(t, client.Authenticated())
	require.Equal(t, "alice", gotUser)
	require.Equal(t, "tok-1", gotToken)
}

func TestLoginRejected(t *testing.T) {
	loginForm := `<form action="/j_spring_security_check"><input name="j_username"/></form>`

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<input name="_csrf" value="tok-1"/>`)
	})
	mux.HandleFunc("/j_spring_security_check", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, loginForm)
	})

	client, _ := newTestClient(t, mux)
	err := client.Login(context.Background(), "alice", "wrong")
	require.ErrorIs(t, err, ErrAuthentication)
	require.False(t, client.Authenticated())
}

func TestLoginValidatesViaProfileProbe(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<input name="_csrf" value="tok-1"/>`)
	})
	mux.HandleFunc("/j_spring_security_check", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ambiguous response")
	})
	mux.HandleFunc("/s/studentProfilePESU", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<div class="studentProfile">Alice</div><a>Logout</a>`)
	})

	client, _ := newTestClient(t, mux)
	require.NoError(t, client.Login(context.Background(), "alice", "secret"))
	require.True(t, client.Authenticated())
}

func TestSubjects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a/g/getSubjectsCode", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `
			<option value='\"8154\"'>UE23CS352A-Machine Learning</option>
			<option value="8155">UE23CS343AB2-Cloud Computing</option>
			<option value="">ignored</option>
		`)
	})

	client, _ := newTestClient(t, mux)
	subjects, err := client.Subjects(context.Background())
	require.NoError(t, err)
	require.Len(t, subjects, 2)

	require.Equal(t, "8154", subjects[0].ID)
	require.Equal(t, "UE23CS352A", subjects[0].SubjectCode)
	require.Equal(t, "UE23CS352A-Machine Learning", subjects[0].SubjectName)
	require.Equal(t, "8155", subjects[1].ID)
}

func TestCourseUnitsJSONWrapped(t *testing.T) {
	html := `<option value="101">Unit 1: Introduction</option><option value="102">Unit 2: Pipelines</option>`

	mux := http.NewServeMux()
	mux.HandleFunc("/a/i/getCourse/8154", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(html))
	})

	client, _ := newTestClient(t, mux)
	units, err := client.CourseUnits(context.Background(), "8154")
	require.NoError(t, err)
	require.Len(t, units, 2)
	require.Equal(t, Unit{ID: "101", Name: "Unit 1: Introduction"}, units[0])
	require.Equal(t, Unit{ID: "102", Name: "Unit 2: Pipelines"}, units[1])
}

func TestUnitClasses(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a/i/getCourseClasses/101", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<option value="9001">1. Kafka Basics</option>`)
	})

	client, _ := newTestClient(t, mux)
	classes, err := client.UnitClasses(context.Background(), "101")
	require.NoError(t, err)
	require.Len(t, classes, 1)
	require.Equal(t, Class{ID: "9001", Name: "1. Kafka Basics"}, classes[0])
}

func TestClassFilesDirectPDF(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/s/studentProfilePESUAdmin", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "8154", r.URL.Query().Get("selectedData"))
		require.Equal(t, "9001", r.URL.Query().Get("unitid"))
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4 inline"))
	})

	client, _ := newTestClient(t, mux)
	links, stream, err := client.ClassFiles(context.Background(), "8154", "9001")
	require.NoError(t, err)
	require.Nil(t, links)
	require.NotNil(t, stream)
	defer stream.Body.Close()

	data, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.4 inline", string(data))
	require.Contains(t, stream.ContentType, "application/pdf")
}

func TestClassFilesLinkExtraction(t *testing.T) {
	page := `
		<div onclick="downloadcoursedoc('D100')">Lecture Notes</div>
		<span onclick="loadIframe('/Academy/a/referenceMeterials/downloadslidecoursedoc/D200#view=fitH')">Slides (v2)</span>
		<a href="/Academy/a/referenceMeterials/downloadslidecoursedoc/D200">Slides (v2)</a>
		<a href="/unrelated/page">About</a>
	`

	mux := http.NewServeMux()
	mux.HandleFunc("/s/studentProfilePESUAdmin", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, page)
	})

	client, srv := newTestClient(t, mux)
	links, stream, err := client.ClassFiles(context.Background(), "8154", "9001")
	require.NoError(t, err)
	require.Nil(t, stream)
	require.Len(t, links, 2)

	require.Equal(t, "Lecture Notes", links[0].Text)
	require.Equal(t, srv.URL+"/Academy/s/referenceMeterials/downloadcoursedoc/D100", links[0].URL)
	require.Equal(t, "Slides (v2)", links[1].Text)
	require.Equal(t, srv.URL+"/Academy/a/referenceMeterials/downloadslidecoursedoc/D200", links[1].URL)
}

func TestClassFilesNoLinks(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/s/studentProfilePESUAdmin", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, `<p>No material uploaded yet.</p>`)
	})

	client, _ := newTestClient(t, mux)
	links, stream, err := client.ClassFiles(context.Background(), "8154", "9001")
	require.NoError(t, err)
	require.Nil(t, stream)
	require.Empty(t, links)
}

func TestFetch(t *testing.T) {
	var gotReferer string

	mux := http.NewServeMux()
	mux.HandleFunc("/Academy/s/referenceMeterials/downloadcoursedoc/D100", func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("Referer")
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.presentationml.presentation")
		w.Header().Set("Content-Disposition", `attachment; filename="kafka_basics.pptx"`)
		w.Write([]byte("PK\x03\x04fake"))
	})

	client, srv := newTestClient(t, mux)
	stream, err := client.Fetch(context.Background(), FileLink{
		Text: "Lecture Notes",
		URL:  srv.URL + "/Academy/s/referenceMeterials/downloadcoursedoc/D100",
	})
	require.NoError(t, err)
	defer stream.Body.Close()

	require.Equal(t, "kafka_basics.pptx", stream.Filename)
	require.Contains(t, gotReferer, "/s/studentProfilePESU")

	data, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	require.Equal(t, "PK\x03\x04fake", string(data))
}

func TestFetchHTTPError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/doc", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})

	client, srv := newTestClient(t, mux)
	_, err := client.Fetch(context.Background(), FileLink{URL: srv.URL + "/doc"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "403")
}

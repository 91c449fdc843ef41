package dingtalk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestOpenAPIClient_RetriesOnceAfter401(t *testing.T) {
	var tokenCalls, sendCalls atomic.Int32
	var lastBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1.0/oauth2/corp1/token":
			n := tokenCalls.Add(1)
			json.NewEncoder(w).Encode(map[string]any{"access_token": fmt.Sprintf("tok%d", n), "expires_in": 7200})
		case "/v1.0/robot/groupMessages/send":
			sendCalls.Add(1)
			if r.Header.Get(accessTokenHeader) == "tok1" {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"code":"InvalidAuthentication","message":"expired"}`))
				return
			}
			json.NewDecoder(r.Body).Decode(&lastBody)
			w.Write([]byte(`{"processQueryKey":"pqk"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewOpenAPIClient(OpenAPIOptions{AccountID: "main", ClientID: "id", ClientSecret: "s", CorpID: "corp1", BaseURL: srv.URL})
	resp, err := c.SendGroup(context.Background(), "cid1", APIMessage{Kind: KindMarkdown, Content: "**x**"}, "rc")
	if err != nil {
		t.Fatalf("SendGroup: %v", err)
	}
	if resp["processQueryKey"] != "pqk" {
		t.Errorf("resp = %v", resp)
	}
	if tokenCalls.Load() != 2 || sendCalls.Load() != 2 {
		t.Errorf("token calls = %d, send calls = %d, want 2/2", tokenCalls.Load(), sendCalls.Load())
	}
	if lastBody["msgKey"] != "sampleMarkdown" || lastBody["robotCode"] != "rc" {
		t.Errorf("body = %v", lastBody)
	}
	var param map[string]string
	json.Unmarshal([]byte(lastBody["msgParam"].(string)), &param)
	if param["title"] != defaultMarkdownTitle || param["text"] != "**x**" {
		t.Errorf("msgParam = %v", param)
	}
}

func TestOpenAPIClient_RequiresCorpID(t *testing.T) {
	c := NewOpenAPIClient(OpenAPIOptions{AccountID: "main", ClientID: "id", ClientSecret: "s", BaseURL: "http://127.0.0.1:1"})
	_, err := c.AccessToken(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want AuthError", err)
	}
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "corpId" {
		t.Errorf("err = %v, want missing corpId", err)
	}
}

func TestOpenAPIClient_UpdateFromCallback(t *testing.T) {
	c := NewOpenAPIClient(OpenAPIOptions{RobotCode: "configured"})
	c.UpdateFromCallback(map[string]any{"chatbotCorpId": "corp-learned", "robotCode": "learned"})
	if c.CorpID() != "corp-learned" {
		t.Errorf("CorpID = %q", c.CorpID())
	}
	if c.RobotCode() != "configured" {
		t.Errorf("RobotCode = %q, configured value must win", c.RobotCode())
	}
	c.UpdateFromCallback(map[string]any{"senderCorpId": "other"})
	if c.CorpID() != "corp-learned" {
		t.Errorf("CorpID overwritten: %q", c.CorpID())
	}
}

func TestOpenAPIClient_DownloadMessageFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1.0/oauth2/corp1/token":
			w.Write([]byte(`{"accessToken":"t","expireIn":7200}`))
		case "/v1.0/robot/messageFiles/download":
			var body map[string]string
			json.NewDecoder(r.Body).Decode(&body)
			if body["downloadCode"] == "gone" {
				w.Write([]byte(`{}`))
				return
			}
			json.NewEncoder(w).Encode(map[string]string{"downloadUrl": "https://dl/" + body["downloadCode"]})
		}
	}))
	defer srv.Close()

	c := NewOpenAPIClient(OpenAPIOptions{CorpID: "corp1", RobotCode: "rc", BaseURL: srv.URL})
	u, err := c.DownloadMessageFile(context.Background(), "abc", "")
	if err != nil || u != "https://dl/abc" {
		t.Fatalf("DownloadMessageFile = %q, %v", u, err)
	}
	var pe *ProtocolError
	if _, err := c.DownloadMessageFile(context.Background(), "gone", ""); !errors.As(err, &pe) {
		t.Errorf("missing url err = %v", err)
	}
}

func TestOAPIClient_UploadMedia(t *testing.T) {
	var gotName, gotType, gotData string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gettoken":
			if r.URL.Query().Get("appkey") != "key" {
				w.Write([]byte(`{"errcode":40089,"errmsg":"bad appkey"}`))
				return
			}
			w.Write([]byte(`{"errcode":0,"access_token":"legacy"}`))
		case "/media/upload":
			if r.URL.Query().Get("access_token") != "legacy" {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			gotType = r.URL.Query().Get("type")
			f, hdr, err := r.FormFile("media")
			if err != nil {
				t.Errorf("FormFile: %v", err)
				return
			}
			data, _ := io.ReadAll(f)
			gotName, gotData = hdr.Filename, string(data)
			w.Write([]byte(`{"errcode":0,"media_id":"@media"}`))
		}
	}))
	defer srv.Close()

	c := NewOAPIClient(OAPIOptions{ClientID: "key", ClientSecret: "secret", BaseURL: srv.URL})
	id, err := c.UploadMedia(context.Background(), MediaUpload{Data: []byte("png"), FileName: `a"b.png`, MIMEType: "image/png"})
	if err != nil {
		t.Fatalf("UploadMedia: %v", err)
	}
	if id != "@media" || gotType != "image" || gotName != `a"b.png` || gotData != "png" {
		t.Errorf("id=%q type=%q name=%q data=%q", id, gotType, gotName, gotData)
	}
	if c.tokens.expireAt.Sub(c.tokens.now()) < legacyDefaultTTL-tokenRefreshMargin {
		t.Errorf("missing expires_in did not fall back to the default TTL")
	}

	bad := NewOAPIClient(OAPIOptions{ClientID: "wrong", ClientSecret: "secret", BaseURL: srv.URL})
	_, err = bad.UploadMedia(context.Background(), MediaUpload{Data: []byte("x")})
	var pe *ProtocolError
	if !errors.As(err, &pe) || pe.Code != "40089" {
		t.Errorf("err = %v, want ProtocolError 40089", err)
	}
}

func TestOAPIClient_GetToken(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantTok     string
		wantTTL     time.Duration
		wantInvalid bool
	}{
		{"numeric ttl", `{"errcode":0,"access_token":"t","expires_in":3600}`, "t", time.Hour, false},
		{"string ttl", `{"errcode":0,"access_token":"t","expires_in":"1800"}`, "t", 30 * time.Minute, false},
		{"missing ttl", `{"errcode":0,"access_token":"t"}`, "t", legacyDefaultTTL, false},
		{"zero ttl", `{"errcode":0,"access_token":"t","expires_in":0}`, "", 0, true},
		{"negative ttl", `{"errcode":0,"access_token":"t","expires_in":-5}`, "", 0, true},
		{"garbage ttl", `{"errcode":0,"access_token":"t","expires_in":"garbage"}`, "", 0, true},
		{"empty token", `{"errcode":0,"access_token":"","expires_in":7200}`, "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/gettoken" || r.URL.Query().Get("appkey") != "key" || r.URL.Query().Get("appsecret") != "secret" {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewOAPIClient(OAPIOptions{ClientID: "key", ClientSecret: "secret", BaseURL: srv.URL})
			tok, err := c.AccessToken(context.Background())
			if tt.wantInvalid {
				var authErr *AuthError
				if !errors.As(err, &authErr) || !errors.Is(err, ErrInvalidTokenResponse) {
					t.Fatalf("err = %v, want AuthError wrapping ErrInvalidTokenResponse", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("AccessToken: %v", err)
			}
			if tok != tt.wantTok {
				t.Errorf("token = %q, want %q", tok, tt.wantTok)
			}
			if got := c.tokens.expireAt.Sub(c.tokens.now()); got > tt.wantTTL || got < tt.wantTTL-time.Minute {
				t.Errorf("ttl = %v, want about %v", got, tt.wantTTL)
			}
		})
	}
}

func TestOAPIClient_GetTokenMissingCredentials(t *testing.T) {
	c := NewOAPIClient(OAPIOptions{ClientID: "key", BaseURL: "http://127.0.0.1:1"})
	_, err := c.AccessToken(context.Background())
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Errorf("err = %v, want *AuthError", err)
	}
}

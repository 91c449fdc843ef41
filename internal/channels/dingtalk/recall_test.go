package dingtalk

import (
	"context"
	"errors"
	"testing"
)

func TestRecall(t *testing.T) {
	tests := []struct {
		name      string
		dest      Destination
		id        string
		robot     string
		resp      map[string]any
		err       error
		want      bool
		wantCalls int
		wantKey   string
		wantScene Scene
	}{
		{name: "webhook id is a no-op", dest: GroupDestination("cid"), id: "DingDing_main_1700000000000", robot: "r", wantCalls: 0},
		{name: "explicit prefix forces api", dest: GroupDestination("cid"), id: "OpenAPI:DingDing_main_1", robot: "r", want: true, wantCalls: 1, wantKey: "DingDing_main_1", wantScene: SceneGroup},
		{name: "direct recall", dest: DirectDestination("u1"), id: "pqk-1", robot: "r", want: true, wantCalls: 1, wantKey: "pqk-1", wantScene: SceneFriend},
		{name: "missing robot code", dest: GroupDestination("cid"), id: "pqk-1", wantCalls: 0},
		{name: "success false", dest: GroupDestination("cid"), id: "pqk-1", robot: "r", resp: map[string]any{"success": false}, wantCalls: 1, wantKey: "pqk-1", wantScene: SceneGroup},
		{name: "nested result false", dest: GroupDestination("cid"), id: "pqk-1", robot: "r", resp: map[string]any{"data": map[string]any{"result": false}}, wantCalls: 1, wantKey: "pqk-1", wantScene: SceneGroup},
		{name: "api error", dest: GroupDestination("cid"), id: "pqk-1", robot: "r", err: errors.New("boom"), wantCalls: 1, wantKey: "pqk-1", wantScene: SceneGroup},
		{name: "blank id", dest: GroupDestination("cid"), id: "  ", robot: "r"},
		{name: "prefix only", dest: GroupDestination("cid"), id: "openapi:", robot: "r"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{recallRes: tt.resp, recallErr: tt.err}
			r := NewRecaller("DingDing_main", api, func() string { return tt.robot }, nil)

			if got := r.Recall(context.Background(), tt.dest, tt.id); got != tt.want {
				t.Errorf("Recall = %v, want %v", got, tt.want)
			}
			if len(api.recalls) != tt.wantCalls {
				t.Fatalf("api calls = %d, want %d", len(api.recalls), tt.wantCalls)
			}
			if tt.wantCalls == 1 {
				c := api.recalls[0]
				if c.Msg.Content != tt.wantKey || c.Scene != tt.wantScene {
					t.Errorf("call = %+v, want key %q scene %s", c, tt.wantKey, tt.wantScene)
				}
			}
		})
	}
}

func TestRecallRejected(t *testing.T) {
	tests := []struct {
		resp map[string]any
		want bool
	}{
		{nil, false},
		{map[string]any{"success": true}, false},
		{map[string]any{"success": "false"}, false},
		{map[string]any{"result": false}, true},
		{map[string]any{"success": true, "data": map[string]any{"success": false}}, false},
	}
	for _, tt := range tests {
		if got := recallRejected(tt.resp); got != tt.want {
			t.Errorf("recallRejected(%v) = %v, want %v", tt.resp, got, tt.want)
		}
	}
}

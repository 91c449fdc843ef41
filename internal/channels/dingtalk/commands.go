package dingtalk

import (
	"context"
	"regexp"
	"strings"

	"github.com/XuF163/dingbridge/internal/bus"
)

var (
	cmdStatus = regexp.MustCompile(`(?i)^#?ding\s+status$`)
	cmdBind   = regexp.MustCompile(`(?i)^#?ding\s+bind(?:\s+(.*))?$`)
	cmdUnbind = regexp.MustCompile(`(?i)^#?ding\s+unbind(?:\s+(.*))?$`)
)

const (
	bindUsage   = "用法：\n- 群聊：#ding bind <webhook> [secret]\n- 私聊：#ding bind <groupId> <webhook> [secret]"
	unbindUsage = "用法：\n- 群聊：#ding unbind\n- 私聊：#ding unbind <groupId>"
	noBotsReply = "未加载任何钉钉账号（请检查配置中的 dingdingAccounts）"
)

// handleCommand runs "#ding status|bind|unbind" for masters. It reports
// whether msg was consumed.
func (s *Service) handleCommand(ctx context.Context, b *Bot, msg bus.InboundMessage) bool {
	text := strings.TrimSpace(msg.Content)
	if !strings.Contains(strings.ToLower(text), "ding") {
		return false
	}

	var reply string
	switch {
	case cmdStatus.MatchString(text):
		if !s.isMaster(msg.SenderID) {
			return false
		}
		reply = s.statusReply()

	case cmdBind.MatchString(text):
		if !s.isMaster(msg.SenderID) {
			return false
		}
		reply = s.bindReply(ctx, b, msg, strings.Fields(cmdBind.FindStringSubmatch(text)[1]))

	case cmdUnbind.MatchString(text):
		if !s.isMaster(msg.SenderID) {
			return false
		}
		reply = s.unbindReply(ctx, b, msg, strings.TrimSpace(cmdUnbind.FindStringSubmatch(text)[1]))

	default:
		return false
	}

	dest := DestinationFor(msg.PeerKind, msg.ChatID)
	opts := SendOptions{PreferOpenAPI: b.account.EnableOpenAPISend}
	if _, err := b.SendMessage(ctx, dest, []bus.MessageElement{{Type: "text", Text: reply}}, opts); err != nil {
		b.log.Warn("command reply failed", "error", err)
	}
	return true
}

func (s *Service) isMaster(userID string) bool {
	return s.cfg != nil && userID != "" && s.cfg.IsMaster(userID)
}

func (s *Service) statusReply() string {
	status := s.Status()
	if len(status) == 0 {
		return noBotsReply
	}
	var sb strings.Builder
	sb.WriteString("DingTalk Bots:")
	for _, st := range status {
		online := "offline"
		if st.Online {
			online = "online"
		}
		sb.WriteString("\n- " + st.SelfID + " (" + st.AccountID + ") " + online)
		if st.LastError != "" {
			sb.WriteString(" err=" + st.LastError)
		}
	}
	return sb.String()
}

func (s *Service) bindReply(ctx context.Context, b *Bot, msg bus.InboundMessage, args []string) string {
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}
	var groupID, webhook, secret string
	if msg.PeerKind == bus.PeerGroup {
		groupID, webhook, secret = msg.ChatID, arg(0), arg(1)
	} else {
		groupID, webhook, secret = arg(0), arg(1), arg(2)
	}
	if groupID == "" || webhook == "" {
		return bindUsage
	}
	if err := s.BindGroupWebhook(ctx, b.AccountID(), groupID, webhook, secret); err != nil {
		return "绑定失败: " + err.Error()
	}
	return "已绑定群 webhook\n- accountId: " + b.AccountID() + "\n- groupId: " + groupID
}

func (s *Service) unbindReply(ctx context.Context, b *Bot, msg bus.InboundMessage, arg string) string {
	groupID := arg
	if msg.PeerKind == bus.PeerGroup {
		groupID = msg.ChatID
	}
	if groupID == "" {
		return unbindUsage
	}
	ok, err := s.UnbindGroupWebhook(ctx, b.AccountID(), groupID)
	if err != nil {
		return "解绑失败: " + err.Error()
	}
	if !ok {
		return "未找到绑定记录: " + groupID
	}
	return "已解绑群 webhook: " + groupID
}

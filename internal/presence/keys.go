package presence

// All presence state for a tenant lives in one hash keyed by the tenant id:
// one field per user's socket set plus the roster field. Channels are
// tenant-scoped so sibling gateway processes only hear about their tenants.
const (
	onlineUsersField = "online-users"

	onlineUsersChannelSuffix = "online-users"
	chatUsersChannelSuffix   = "connected-chat-users-subscription"
	promptChannelSuffix      = "inactivity-prompt"
)

func socketsField(userID string) string {
	return "user-sockets:" + userID
}

// RosterChannel is the pub/sub channel carrying a tenant's full roster on
// every membership or status change.
func RosterChannel(tenant string) string {
	return tenant + ":" + onlineUsersChannelSuffix
}

// ChatUsersChannel is the second, delivery-only channel carrying connected
// chat-room user updates. The presence registry never writes to it.
func ChatUsersChannel(tenant string) string {
	return tenant + ":" + chatUsersChannelSuffix
}

// PromptChannel carries inactivity-prompt open/close state. A user's sockets
// may be spread over several gateway processes, so prompt state travels the
// store like the roster does and each process delivers to the sockets it owns.
func PromptChannel(tenant string) string {
	return tenant + ":" + promptChannelSuffix
}

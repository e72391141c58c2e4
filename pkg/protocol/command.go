package protocol

import (
	"strings"

	"google.golang.org/protobuf/types/known/structpb"
)

// DanmakuCommand is the canonical name of every chat message variant.
const DanmakuCommand = "DANMU_MSG"

// CommandKind classifies the cmd field of a message payload.
type CommandKind int

const (
	CommandNone CommandKind = iota
	CommandUnknown
	CommandDanmaku
	CommandGift
	CommandSuperChat
	CommandGuardBuy
	CommandInteractWord
	CommandRoomChange
	CommandLive
	CommandPreparing
	CommandWatchedChange
	CommandOnlineRankCount
)

var knownCommands = map[string]CommandKind{
	"SEND_GIFT":          CommandGift,
	"SUPER_CHAT_MESSAGE": CommandSuperChat,
	"GUARD_BUY":          CommandGuardBuy,
	"INTERACT_WORD":      CommandInteractWord,
	"ROOM_CHANGE":        CommandRoomChange,
	"LIVE":               CommandLive,
	"PREPARING":          CommandPreparing,
	"WATCHED_CHANGE":     CommandWatchedChange,
	"ONLINE_RANK_COUNT":  CommandOnlineRankCount,
}

// String returns the string representation of CommandKind
func (k CommandKind) String() string {
	switch k {
	case CommandNone:
		return "none"
	case CommandDanmaku:
		return DanmakuCommand
	case CommandUnknown:
		return "unknown"
	}
	for name, kind := range knownCommands {
		if kind == k {
			return name
		}
	}
	return "unknown"
}

// Command is the routed form of a message payload. Name is canonical for
// the danmaku family and verbatim otherwise.
type Command struct {
	Kind CommandKind
	Name string
}

// ParseCommand reads the cmd field of a message payload, falling back to
// msg.cmd one level down.
func ParseCommand(payload *structpb.Struct) Command {
	name := commandName(payload)
	if name == "" {
		return Command{Kind: CommandNone}
	}
	if strings.Contains(name, DanmakuCommand) {
		return Command{Kind: CommandDanmaku, Name: DanmakuCommand}
	}
	if kind, ok := knownCommands[name]; ok {
		return Command{Kind: kind, Name: name}
	}
	return Command{Kind: CommandUnknown, Name: name}
}

func commandName(payload *structpb.Struct) string {
	fields := payload.GetFields()
	if cmd := fields["cmd"].GetStringValue(); cmd != "" {
		return cmd
	}
	return fields["msg"].GetStructValue().GetFields()["cmd"].GetStringValue()
}

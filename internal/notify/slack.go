package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"speedtrap-service/internal/domain/violation"
)

type SlackNotifier struct {
	api     *slack.Client
	channel string
}

func NewSlackNotifier(api *slack.Client, channel string) *SlackNotifier {
	return &SlackNotifier{api: api, channel: channel}
}

func (n *SlackNotifier) Notify(ctx context.Context, v violation.Record) error {
	_, _, err := n.api.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(Message(v), false),
		slack.MsgOptionBlocks(violationBlocks(v)...),
	)
	if err != nil {
		return fmt.Errorf("slack notify %s: %w", v.LicensePlate, err)
	}
	return nil
}

func violationBlocks(v violation.Record) []slack.Block {
	fields := []*slack.TextBlockObject{
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Plate:*\n%s", v.LicensePlate), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Speed:*\n%.1f km/h (limit %.1f)", v.Speed, v.SpeedLimit), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Location:*\n%s", v.Location), false, false),
		slack.NewTextBlockObject(slack.MarkdownType, fmt.Sprintf("*Time:*\n%s", v.Timestamp.Format("2006-01-02 15:04:05")), false, false),
	}

	blocks := []slack.Block{
		slack.NewHeaderBlock(
			slack.NewTextBlockObject(slack.PlainTextType, "Speed violation", false, false),
		),
		slack.NewSectionBlock(nil, fields, nil),
	}
	if v.ImagePath != "" {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, "Snapshot: "+v.ImagePath, false, false),
		))
	}
	return blocks
}

package notify

import (
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/oktant/oktant/pkg/process"
)

const maxBlockTextLength = 2900

var statusEmoji = map[process.Status]string{
	process.StatusCompleted: ":white_check_mark:",
	process.StatusError:     ":x:",
	process.StatusCancelled: ":no_entry_sign:",
}

var statusLabel = map[process.Status]string{
	process.StatusCompleted: "Query Complete",
	process.StatusError:     "Query Failed",
	process.StatusCancelled: "Query Cancelled",
}

func processURL(processID, dashboardURL string) string {
	return fmt.Sprintf("%s/queries/%s", dashboardURL, processID)
}

// BuildTerminalMessage creates Block Kit blocks for a terminal process
// notification.
func BuildTerminalMessage(snap process.Snapshot, errMessage, dashboardURL string) []goslack.Block {
	emoji := statusEmoji[snap.Status]
	if emoji == "" {
		emoji = ":question:"
	}
	label := statusLabel[snap.Status]
	if label == "" {
		label = "Query " + string(snap.Status)
	}

	headerText := fmt.Sprintf("%s *%s*\n\n*Query:*\n%s", emoji, label, truncateForSlack(snap.Query))
	if errMessage != "" {
		headerText += fmt.Sprintf("\n\n*Error:*\n%s", truncateForSlack(errMessage))
	}

	blocks := []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, headerText, false, false),
			nil, nil,
		),
	}

	buttonText := "View Results"
	if snap.Status != process.StatusCompleted {
		buttonText = "View Details"
	}
	btn := goslack.NewButtonBlockElement("", "", goslack.NewTextBlockObject(goslack.PlainTextType, buttonText, false, false))
	btn.URL = processURL(snap.ID, dashboardURL)
	blocks = append(blocks, goslack.NewActionBlock("", btn))

	return blocks
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}

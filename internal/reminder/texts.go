package reminder

import (
	"fmt"
	"strings"

	"carecue/internal/caregiving"
	"carecue/internal/dispatcher"
)

func payloadFor(k Kind, childID string, in Inputs) dispatcher.Payload {
	p := dispatcher.Payload{Kind: k.String(), ChildID: childID}
	switch k.Type {
	case KindFeeding:
		p.Title = "Feeding time"
		if in.FeedingMode == FeedingInterval || in.Pattern.AvgFeedingHour == nil {
			p.Body = fmt.Sprintf("It has been %d hours since the last feeding.", in.Settings.FeedingIntervalHours)
		} else {
			p.Body = fmt.Sprintf("Feedings usually happen around %02d:00.", *in.Pattern.AvgFeedingHour)
		}
	case KindSleep:
		p.Title = "Bedtime"
		p.Body = "Time to start the bedtime routine."
	case KindSupplement:
		p.Title = "Supplement"
		p.Body = "Don't forget today's supplement."
	case KindDailySummary:
		p.Title = "Daily summary"
		p.Body = "Take a look at how today went."
	case KindVaccine:
		p.Title = "Vaccination in one week"
		p.Body = vaccineBody(in.Vaccine)
	}
	return p
}

func vaccineBody(v caregiving.Vaccine) string {
	name := strings.TrimSpace(v.Name)
	if name == "" {
		name = v.Occasion
	}
	if v.DueDate.IsZero() {
		return name + " is coming up."
	}
	return fmt.Sprintf("%s is due on %s.", name, v.DueDate.Format("Mon, 2 Jan"))
}

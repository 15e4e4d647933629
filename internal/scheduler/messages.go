package scheduler

import "github.com/Olwiba/KoruClub/internal/calendar"

// Fixed announcement text per job type. Goal collection opens on kickoff and
// check-in prompts; the commands layer watches for replies.
var jobMessages = map[calendar.JobType]string{
	calendar.Kickoff: "🌱 Sprint Kickoff! A fresh two-week sprint starts today.\n" +
		"Reply with your goals for this sprint (one per message is fine) and I'll track them for you.",
	calendar.CheckIn: "👋 Mid-sprint check-in. How are your goals tracking?\n" +
		"Tell me what you've finished and I'll tick it off. Still time to add a goal, too.",
	calendar.Review: "🏁 Sprint Review! The sprint wraps up today.\n" +
		"Share what you completed. Anything unfinished carries over to the next sprint.",
	calendar.Demo: "🎤 Demo Day! Show the club something you built or learned this sprint.\n" +
		"Screenshots, links and half-finished experiments all welcome.",
	calendar.MonthEnd: "📅 Month-end wrap. Closing out the month's goals now.\n" +
		"Open goals roll over, and the month's completions get a shout-out. Kia kaha!",
}

// MessageFor returns the announcement text for a job type.
func MessageFor(jt calendar.JobType) string { return jobMessages[jt] }

// Package alerts evaluates caffeine level rules against each user's freshly
// computed report and delivers webhook notifications to Slack, Teams or a
// generic HTTP endpoint when a rule fires or resolves.
package alerts

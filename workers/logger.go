package workers

import "rescue_scrooper/models"

// LogFunc is a function that logs to the scrape_logs table
type LogFunc func(level models.LogLevel, orgID, message string)

// NoOpLogger does nothing (default)
var NoOpLogger LogFunc = func(level models.LogLevel, orgID, message string) {}

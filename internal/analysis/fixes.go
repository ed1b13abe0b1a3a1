package analysis

var fixTemplates = map[string]Suggestion{
	"NullPointerException": {
		Issue:      "Null pointer reference",
		Suggestion: "Add null checks before accessing object properties",
		CodeSnippet: `if obj != nil {
    result = obj.Property
} else {
    result = defaultValue
}`,
		Prevention: "Use Optional types and null-safe operators",
	},
	"ConnectionRefused": {
		Issue:      "Service connection failure",
		Suggestion: "Implement retry logic with exponential backoff",
		CodeSnippet: `for attempt := 0; attempt < maxRetries; attempt++ {
    if err = call(); err == nil {
        break
    }
    time.Sleep(baseDelay << attempt)
}`,
		Prevention: "Use connection pools and health checks",
	},
	"Timeout": {
		Issue:      "Request timeout",
		Suggestion: "Increase timeout values and add async processing",
		CodeSnippet: `ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
defer cancel()
req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)`,
		Prevention: "Monitor response times and set appropriate timeouts",
	},
	"OutOfMemoryError": {
		Issue:      "Memory exhaustion",
		Suggestion: "Profile memory usage and optimize allocations",
		CodeSnippet: `scanner := bufio.NewScanner(f)
for scanner.Scan() {
    process(scanner.Bytes()) // stream instead of loading the whole file
}`,
		Prevention: "Set memory limits and implement pagination for large datasets",
	},
	"DatabaseError": {
		Issue:      "Database operation failure",
		Suggestion: "Check connection pool settings and query optimization",
		CodeSnippet: `db.SetMaxOpenConns(10)
db.SetMaxIdleConns(5)
db.SetConnMaxLifetime(30 * time.Minute)`,
		Prevention: "Monitor connection pool metrics and slow queries",
	},
	"RateLimitError": {
		Issue:      "API rate limit exceeded",
		Suggestion: "Implement rate limiting and request queuing",
		CodeSnippet: `limiter := rate.NewLimiter(rate.Every(600*time.Millisecond), 10)
if err := limiter.Wait(ctx); err != nil {
    return err
}`,
		Prevention: "Cache responses and batch requests where possible",
	},
}

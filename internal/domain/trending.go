package domain

import "time"

// TrendingEntry accumulates daily popularity counters for a job's image.
// Score weights: views = 1, likes = 5, shares = 10.
type TrendingEntry struct {
	ID        string
	JobID     string
	Day       string // "2024-01-15"
	Views     int
	Likes     int
	Shares    int
	Score     int
	UpdatedAt time.Time
}

// TrendingScore computes the popularity score from raw counters.
func TrendingScore(views, likes, shares int) int {
	return views + likes*5 + shares*10
}

// TrendingImage is a trending entry joined with its completed job.
type TrendingImage struct {
	Job    Job
	Score  int
	Views  int
	Likes  int
	Shares int
}

package magio

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Program is one EPG entry. Times are unix seconds; the upstream reports
// milliseconds.
type Program struct {
	ScheduleID  int      `json:"schedule_id"`
	Title       string   `json:"title"`
	StartTime   int64    `json:"start_time"`
	EndTime     int64    `json:"end_time"`
	Description string   `json:"description"`
	Duration    int      `json:"duration"`
	Category    string   `json:"category"`
	Year        int      `json:"year,omitempty"`
	Episode     string   `json:"episode,omitempty"`
	Images      []string `json:"images,omitempty"`
}

type epgResponse struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage"`
	Items        []struct {
		Channel struct {
			ID int `json:"id"`
		} `json:"channel"`
		Programs []struct {
			ScheduleID   int   `json:"scheduleId"`
			StartTimeUTC int64 `json:"startTimeUTC"`
			EndTimeUTC   int64 `json:"endTimeUTC"`
			Program      struct {
				Title           string `json:"title"`
				Description     string `json:"description"`
				ProgramCategory struct {
					Desc string `json:"desc"`
				} `json:"programCategory"`
				ProgramValue struct {
					CreationYear int    `json:"creationYear"`
					EpisodeID    string `json:"episodeId"`
				} `json:"programValue"`
				Images []string `json:"images"`
			} `json:"program"`
		} `json:"programs"`
	} `json:"items"`
}

// EPG fetches the guide for one channel (channelID > 0) or every known
// channel, daysBack..daysForward around today, keyed by channel id.
func (c *Client) EPG(ctx context.Context, channelID int, daysBack, daysForward int) (map[int][]Program, error) {
	now := time.Now()
	start := now.AddDate(0, 0, -daysBack).Format("2006-01-02") + "T00:00:00.000Z"
	end := now.AddDate(0, 0, daysForward).Format("2006-01-02") + "T23:59:59.000Z"

	var filter string
	if channelID > 0 {
		filter = fmt.Sprintf("channel.id==%d and startTime=ge=%s and endTime=le=%s", channelID, start, end)
	} else {
		channels, err := c.Channels(ctx)
		if err != nil {
			return nil, err
		}
		if len(channels) == 0 {
			return nil, nil
		}
		filter = fmt.Sprintf("channel.id=in=(%s) and startTime=ge=%s and endTime=le=%s",
			strings.Join(channelIDs(channels), ","), start, end)
	}

	return c.fetchEPG(ctx, filter, 1000)
}

func (c *Client) fetchEPG(ctx context.Context, filter string, limit int) (map[int][]Program, error) {
	req, err := c.req(ctx, nil)
	if err != nil {
		return nil, err
	}

	var resp epgResponse
	_, err = handleError(req.
		SetResult(&resp).
		SetQueryParams(map[string]string{
			"filter": filter,
			"limit":  fmt.Sprint(limit),
			"offset": "0",
			"lang":   strings.ToUpper(c.lang),
		}).
		Get("/v2/television/epg"))
	if err != nil {
		return nil, fmt.Errorf("could not fetch epg: %w", err)
	}
	if resp.ErrorMessage != "" && !resp.Success {
		return nil, fmt.Errorf("epg rejected: %s", resp.ErrorMessage)
	}

	guide := make(map[int][]Program)
	for _, item := range resp.Items {
		id := item.Channel.ID
		if id == 0 {
			continue
		}
		for _, p := range item.Programs {
			start := p.StartTimeUTC / 1000
			end := p.EndTimeUTC / 1000
			guide[id] = append(guide[id], Program{
				ScheduleID:  p.ScheduleID,
				Title:       p.Program.Title,
				StartTime:   start,
				EndTime:     end,
				Description: p.Program.Description,
				Duration:    int(end - start),
				Category:    p.Program.ProgramCategory.Desc,
				Year:        p.Program.ProgramValue.CreationYear,
				Episode:     p.Program.ProgramValue.EpisodeID,
				Images:      p.Program.Images,
			})
		}
	}

	return guide, nil
}

// FindProgramByTime locates the scheduled program overlapping the
// [start, end] unix-second range on a channel. Returns nil when nothing
// matches.
func (c *Client) FindProgramByTime(ctx context.Context, channelID int, start, end int64) (*Program, error) {
	startStr := time.Unix(start, 0).UTC().Format("2006-01-02T15:04:05") + ".000Z"
	endStr := time.Unix(end, 0).UTC().Format("2006-01-02T15:04:05") + ".000Z"
	filter := fmt.Sprintf("channel.id==%d and startTime=ge=%s and endTime=le=%s", channelID, startStr, endStr)

	guide, err := c.fetchEPG(ctx, filter, 10)
	if err != nil {
		return nil, err
	}

	for _, programs := range guide {
		for i := range programs {
			p := programs[i]
			if p.StartTime <= end && p.EndTime >= start {
				return &p, nil
			}
		}
	}

	log.Warn().Int("channelId", channelID).Msg("no program found for time range")
	return nil, nil
}

// CurrentProgram returns the program on air right now for a channel.
func (c *Client) CurrentProgram(ctx context.Context, channelID int) (*Program, error) {
	now := time.Now()
	return c.FindProgramByTime(ctx, channelID, now.Add(-time.Hour).Unix(), now.Add(time.Hour).Unix())
}

// NextPrograms returns up to count upcoming programs for a channel.
func (c *Client) NextPrograms(ctx context.Context, channelID, count int) ([]Program, error) {
	guide, err := c.EPG(ctx, channelID, 0, 1)
	if err != nil {
		return nil, err
	}

	programs := guide[channelID]
	sort.Slice(programs, func(i, j int) bool {
		return programs[i].StartTime < programs[j].StartTime
	})

	now := time.Now().Unix()
	upcoming := make([]Program, 0, count)
	for _, p := range programs {
		if p.StartTime > now {
			upcoming = append(upcoming, p)
			if len(upcoming) == count {
				break
			}
		}
	}
	return upcoming, nil
}

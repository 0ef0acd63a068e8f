package magio

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Channel is one live TV channel as exposed to players and the local API.
type Channel struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	OriginalName string `json:"original_name"`
	Logo         string `json:"logo"`
	Group        string `json:"group"`
	HasArchive   bool   `json:"has_archive"`
}

type categoriesResponse struct {
	Categories []struct {
		Name     string `json:"name"`
		Channels []struct {
			ChannelID int `json:"channelId"`
		} `json:"channels"`
	} `json:"categories"`
}

type channelsResponse struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage"`
	Items        []struct {
		Channel struct {
			ChannelID    int    `json:"channelId"`
			Name         string `json:"name"`
			OriginalName string `json:"originalName"`
			LogoURL      string `json:"logoUrl"`
			HasArchive   bool   `json:"hasArchive"`
		} `json:"channel"`
	} `json:"items"`
}

// Channels returns the live channel list, cached under channels_<lang>.
func (c *Client) Channels(ctx context.Context) ([]Channel, error) {
	v, err := c.cache.GetOrFetch("channels_"+c.lang, c.cacheTTL, func() (any, error) {
		channels, err := c.fetchChannels(ctx)
		if err != nil {
			return nil, err
		}
		if len(channels) == 0 {
			return nil, nil
		}
		return channels, nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.([]Channel), nil
}

func (c *Client) fetchChannels(ctx context.Context) ([]Channel, error) {
	// category names come from a separate endpoint, keyed by channel id
	groups := make(map[int]string)

	req, err := c.req(ctx, nil)
	if err != nil {
		return nil, err
	}
	var categories categoriesResponse
	_, err = handleError(req.
		SetResult(&categories).
		SetQueryParam("language", c.lang).
		Get("/home/categories"))
	if err != nil {
		// groups are decoration, a channel list without them is still useful
		log.Warn().Err(err).Msg("could not fetch channel categories")
	} else {
		for _, category := range categories.Categories {
			for _, ch := range category.Channels {
				groups[ch.ChannelID] = category.Name
			}
		}
	}

	req, err = c.req(ctx, nil)
	if err != nil {
		return nil, err
	}
	var resp channelsResponse
	_, err = handleError(req.
		SetResult(&resp).
		SetQueryParams(map[string]string{
			"list":       "LIVE",
			"queryScope": "LIVE",
		}).
		Get("/v2/television/channels"))
	if err != nil {
		return nil, fmt.Errorf("could not fetch channels: %w", err)
	}
	if resp.ErrorMessage != "" && !resp.Success {
		return nil, fmt.Errorf("channel list rejected: %s", resp.ErrorMessage)
	}

	channels := make([]Channel, 0, len(resp.Items))
	for _, item := range resp.Items {
		ch := item.Channel
		group, ok := groups[ch.ChannelID]
		if !ok {
			group = "Other"
		}
		channels = append(channels, Channel{
			ID:           ch.ChannelID,
			Name:         ch.Name,
			OriginalName: ch.OriginalName,
			Logo:         ch.LogoURL,
			Group:        group,
			HasArchive:   ch.HasArchive,
		})
	}

	log.Info().Int("count", len(channels)).Msg("fetched channel list")
	return channels, nil
}

// ChannelByID returns a single channel, cached under channel_<lang>_<id>.
func (c *Client) ChannelByID(ctx context.Context, id int) (*Channel, error) {
	key := fmt.Sprintf("channel_%s_%d", c.lang, id)
	v, err := c.cache.GetOrFetch(key, c.cacheTTL, func() (any, error) {
		channels, err := c.Channels(ctx)
		if err != nil {
			return nil, err
		}
		for i := range channels {
			if channels[i].ID == id {
				return &channels[i], nil
			}
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		log.Warn().Int("channelId", id).Msg("channel not found")
		return nil, nil
	}
	return v.(*Channel), nil
}

// ChannelGroups returns the sorted distinct group names.
func (c *Client) ChannelGroups(ctx context.Context) ([]string, error) {
	key := "channelgroups_" + c.lang
	v, err := c.cache.GetOrFetch(key, c.cacheTTL, func() (any, error) {
		channels, err := c.Channels(ctx)
		if err != nil {
			return nil, err
		}
		seen := make(map[string]struct{})
		groups := make([]string, 0)
		for _, ch := range channels {
			if _, ok := seen[ch.Group]; !ok {
				seen[ch.Group] = struct{}{}
				groups = append(groups, ch.Group)
			}
		}
		sort.Strings(groups)
		return groups, nil
	})
	if err != nil || v == nil {
		return nil, err
	}
	return v.([]string), nil
}

// ChannelsByGroup filters the channel list by group name, case-insensitive.
func (c *Client) ChannelsByGroup(ctx context.Context, group string) ([]Channel, error) {
	key := fmt.Sprintf("channelsgroup_%s_%s", c.lang, strings.ToLower(group))
	v, err := c.cache.GetOrFetch(key, c.cacheTTL, func() (any, error) {
		channels, err := c.Channels(ctx)
		if err != nil {
			return nil, err
		}
		matched := make([]Channel, 0)
		for _, ch := range channels {
			if strings.EqualFold(ch.Group, group) {
				matched = append(matched, ch)
			}
		}
		return matched, nil
	})
	if err != nil || v == nil {
		return nil, err
	}
	return v.([]Channel), nil
}

// SearchChannels returns channels whose name or original name contains term.
// Searches are not cached, only the underlying channel list is.
func (c *Client) SearchChannels(ctx context.Context, term string) ([]Channel, error) {
	if term == "" {
		return nil, nil
	}

	channels, err := c.Channels(ctx)
	if err != nil {
		return nil, err
	}

	term = strings.ToLower(term)
	results := make([]Channel, 0)
	for _, ch := range channels {
		if strings.Contains(strings.ToLower(ch.Name), term) ||
			strings.Contains(strings.ToLower(ch.OriginalName), term) {
			results = append(results, ch)
		}
	}
	return results, nil
}

// ClearChannelCache drops every channel-related cache entry.
func (c *Client) ClearChannelCache() {
	c.cache.Clear("channels_" + c.lang)
	c.cache.Clear("channelgroups_" + c.lang)
	c.cache.Clear(fmt.Sprintf("channel_%s_*", c.lang))
	c.cache.Clear(fmt.Sprintf("channelsgroup_%s_*", c.lang))
}

func channelIDs(channels []Channel) []string {
	ids := make([]string, len(channels))
	for i, ch := range channels {
		ids[i] = strconv.Itoa(ch.ID)
	}
	return ids
}

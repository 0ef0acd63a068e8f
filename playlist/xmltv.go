package playlist

import (
	"encoding/xml"
	"fmt"
	"time"

	"magioproxy/magio"
)

const xmltvTimeLayout = "20060102150405 -0700"

type xmltvDoc struct {
	XMLName       xml.Name         `xml:"tv"`
	GeneratorName string           `xml:"generator-info-name,attr"`
	Channels      []xmltvChannel   `xml:"channel"`
	Programmes    []xmltvProgramme `xml:"programme"`
}

type xmltvChannel struct {
	ID          string     `xml:"id,attr"`
	DisplayName string     `xml:"display-name"`
	Icon        *xmltvIcon `xml:"icon,omitempty"`
}

type xmltvIcon struct {
	Src string `xml:"src,attr"`
}

type xmltvProgramme struct {
	Start    string `xml:"start,attr"`
	Stop     string `xml:"stop,attr"`
	Channel  string `xml:"channel,attr"`
	Title    string `xml:"title"`
	Desc     string `xml:"desc,omitempty"`
	Category string `xml:"category,omitempty"`
	Date     string `xml:"date,omitempty"`
}

// XMLTV renders channels and their guide as an XMLTV document. The guide map
// is keyed by channel id, as returned by the EPG client.
func XMLTV(channels []magio.Channel, guide map[int][]magio.Program) ([]byte, error) {
	doc := xmltvDoc{GeneratorName: "magioproxy"}

	for _, ch := range channels {
		entry := xmltvChannel{
			ID:          fmt.Sprint(ch.ID),
			DisplayName: ch.Name,
		}
		if ch.Logo != "" {
			entry.Icon = &xmltvIcon{Src: ch.Logo}
		}
		doc.Channels = append(doc.Channels, entry)

		for _, p := range guide[ch.ID] {
			programme := xmltvProgramme{
				Start:    time.Unix(p.StartTime, 0).UTC().Format(xmltvTimeLayout),
				Stop:     time.Unix(p.EndTime, 0).UTC().Format(xmltvTimeLayout),
				Channel:  fmt.Sprint(ch.ID),
				Title:    p.Title,
				Desc:     p.Description,
				Category: p.Category,
			}
			if p.Year > 0 {
				programme.Date = fmt.Sprint(p.Year)
			}
			doc.Programmes = append(doc.Programmes, programme)
		}
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("could not marshal xmltv: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

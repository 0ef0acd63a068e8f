package magio

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Device is one device registered to the subscriber account.
type Device struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	IsThisDevice bool   `json:"is_this_device"`
}

type devicesResponse struct {
	ThisDevice *struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"thisDevice"`
	SmallScreenDevices []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"smallScreenDevices"`
	StbAndBigScreenDevices []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"stbAndBigScreenDevices"`
}

type deleteDeviceResponse struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage"`
}

// Devices lists the devices registered to the account, the current one
// first.
func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	req, err := c.req(ctx, nil)
	if err != nil {
		return nil, err
	}

	var resp devicesResponse
	_, err = handleError(req.
		SetResult(&resp).
		Get("/v2/home/my-devices"))
	if err != nil {
		return nil, fmt.Errorf("could not fetch devices: %w", err)
	}

	devices := make([]Device, 0)
	if resp.ThisDevice != nil {
		devices = append(devices, Device{
			ID:           resp.ThisDevice.ID,
			Name:         resp.ThisDevice.Name,
			Type:         "current",
			IsThisDevice: true,
		})
	}
	for _, d := range resp.SmallScreenDevices {
		devices = append(devices, Device{ID: d.ID, Name: d.Name, Type: "mobile"})
	}
	for _, d := range resp.StbAndBigScreenDevices {
		devices = append(devices, Device{ID: d.ID, Name: d.Name, Type: "stb"})
	}

	return devices, nil
}

// CurrentDevice returns the device record matching this session, or nil.
func (c *Client) CurrentDevice(ctx context.Context) (*Device, error) {
	devices, err := c.Devices(ctx)
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if devices[i].IsThisDevice {
			return &devices[i], nil
		}
	}
	return nil, nil
}

// DeleteDevice removes a registered device by id, freeing up a device slot
// on the account.
func (c *Client) DeleteDevice(ctx context.Context, deviceID string) error {
	req, err := c.req(ctx, nil)
	if err != nil {
		return err
	}

	var resp deleteDeviceResponse
	_, err = handleError(req.
		SetResult(&resp).
		SetQueryParam("id", deviceID).
		Get("/home/deleteDevice"))
	if err != nil {
		return fmt.Errorf("could not delete device: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("device delete rejected: %s", resp.ErrorMessage)
	}

	log.Info().Str("deviceId", deviceID).Msg("device removed from account")
	return nil
}

package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jameshartig/mygas/pkg/coordinator"
	"github.com/jameshartig/mygas/pkg/entity"
	"github.com/jameshartig/mygas/pkg/log"
	"github.com/jameshartig/mygas/pkg/types"
)

const (
	ServiceRefresh      = "refresh"
	ServiceSendReadings = "send_readings"
	ServiceGetBill      = "get_bill"

	// EventPrefix prefixes every service event type.
	EventPrefix = "mygas"
)

var (
	ErrUnknownService = errors.New("unknown service")
	ErrInvalidRequest = errors.New("invalid request")
)

// ServiceCall holds the fields of every service. Fields a service does not
// use are ignored.
type ServiceCall struct {
	DeviceID string `json:"deviceID"`
	// Value is the meter reading for send_readings.
	Value *float64 `json:"value,omitempty"`
	// Date selects the bill month for get_bill, formatted as 2006-01-02.
	Date string `json:"date,omitempty"`
	// Email asks get_bill to mail the bill.
	Email string `json:"email,omitempty"`
}

type serviceFunc func(ctx context.Context, c *coordinator.Coordinator, device types.Device, call ServiceCall) (map[string]any, error)

var services = map[string]serviceFunc{
	ServiceRefresh:      handleRefresh,
	ServiceSendReadings: handleSendReadings,
	ServiceGetBill:      handleGetBill,
}

// Services lists the service names.
func Services() []string {
	return []string{ServiceRefresh, ServiceSendReadings, ServiceGetBill}
}

// CallService runs a service for the device in call. Every call fires a
// mygas_{service}_completed or mygas_{service}_failed event.
func (i *Integration) CallService(ctx context.Context, name string, call ServiceCall) (map[string]any, error) {
	fn, ok := services[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	ctx = log.WithAttrs(ctx, slog.String("service", name), slog.String("deviceID", call.DeviceID))
	log.Ctx(ctx).DebugContext(ctx, "service call")

	result, err := i.callService(ctx, fn, call)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "service call failed", slog.Any("error", err))
		i.events.Fire(ctx, fmt.Sprintf("%s_%s_failed", EventPrefix, name), map[string]any{
			"deviceID": call.DeviceID,
			"error":    err.Error(),
		})
		return nil, fmt.Errorf("service call %s failed: %w", name, err)
	}

	data := map[string]any{"deviceID": call.DeviceID}
	for k, v := range result {
		data[k] = v
	}
	i.events.Fire(ctx, fmt.Sprintf("%s_%s_completed", EventPrefix, name), data)
	log.Ctx(ctx).DebugContext(ctx, "service call finished")
	return result, nil
}

func (i *Integration) callService(ctx context.Context, fn serviceFunc, call ServiceCall) (map[string]any, error) {
	device, c, err := i.resolveDevice(ctx, call.DeviceID)
	if err != nil {
		return nil, err
	}
	return fn(log.WithEntry(ctx, device.EntryID), c, device, call)
}

func handleRefresh(ctx context.Context, c *coordinator.Coordinator, _ types.Device, _ ServiceCall) (map[string]any, error) {
	if err := c.ForceRefresh(ctx); err != nil {
		return nil, err
	}
	return map[string]any{}, nil
}

// roundReading rounds a reading up to the next whole unit.
func roundReading(v float64) float64 {
	return math.Ceil(v)
}

func handleSendReadings(ctx context.Context, c *coordinator.Coordinator, device types.Device, call ServiceCall) (map[string]any, error) {
	if call.Value == nil {
		return nil, fmt.Errorf("%w: value is required", ErrInvalidRequest)
	}
	v := *call.Value
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return nil, fmt.Errorf("%w: invalid value %v", ErrInvalidRequest, v)
	}
	out, err := c.SubmitReading(ctx, device.Identifier, roundReading(v))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"readings": out.Value,
		"sent":     out.Sent,
		"message":  out.Message,
	}, nil
}

func handleGetBill(ctx context.Context, c *coordinator.Coordinator, device types.Device, call ServiceCall) (map[string]any, error) {
	var date time.Time
	if call.Date != "" {
		var err error
		date, err = time.Parse(types.DateLayout, call.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid date %q", ErrInvalidRequest, call.Date)
		}
	}
	bill, err := c.FetchBill(ctx, device.Identifier, date, call.Email)
	if err != nil {
		return nil, err
	}
	out := map[string]any{"date": bill.Date, "url": nil, "email": nil}
	if bill.URL != "" {
		out["url"] = bill.URL
	}
	if bill.Email != "" {
		out["email"] = bill.Email
	}
	return out, nil
}

// PressButton runs the service behind a button of a device. The refresh
// button only requests a forced refresh; presses within the cooldown collapse
// into one cycle that runs in the background.
func (i *Integration) PressButton(ctx context.Context, deviceID, key string) (map[string]any, error) {
	for _, b := range entity.Buttons {
		if b.Key != key {
			continue
		}
		if b.Service == ServiceRefresh {
			return i.requestRefresh(ctx, deviceID)
		}
		return i.CallService(ctx, b.Service, ServiceCall{DeviceID: deviceID})
	}
	return nil, fmt.Errorf("%w: unknown button %s", ErrInvalidRequest, key)
}

func (i *Integration) requestRefresh(ctx context.Context, deviceID string) (map[string]any, error) {
	device, c, err := i.resolveDevice(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	c.ForceNextUpdate()
	c.RequestRefresh()
	ctx = log.WithEntry(ctx, device.EntryID)
	log.Ctx(ctx).DebugContext(ctx, "refresh requested", slog.String("deviceID", deviceID))
	i.events.Fire(ctx, fmt.Sprintf("%s_%s_requested", EventPrefix, ServiceRefresh), map[string]any{"deviceID": deviceID})
	return map[string]any{"requested": true}, nil
}

package entity

import (
	"fmt"
	"time"

	"github.com/jameshartig/mygas/pkg/coordinator"
	"github.com/jameshartig/mygas/pkg/ident"
	"github.com/jameshartig/mygas/pkg/types"
)

const (
	Manufacturer     = "Мой Газ"
	AccountModel     = "Лицевой счет"
	ServiceModel     = "Услуга"
	ConfigurationURL = "https://мойгаз.смородина.онлайн/"
)

// Source is what a projection reads: one position in a tree.
type Source struct {
	Tree       *types.Tree
	Pos        coordinator.Position
	LastUpdate time.Time
}

// SubAccount returns the sub-account at the source position.
func (s Source) SubAccount() types.SubAccount {
	sub, _ := s.Tree.SubAccount(s.Pos.Account, s.Pos.SubAccount)
	return sub
}

// Counter returns the counter at the source position.
func (s Source) Counter() types.Counter {
	counters := s.Tree.Counters(s.Pos.Account, s.Pos.SubAccount)
	if s.Pos.Counter < 0 || s.Pos.Counter >= len(counters) {
		return types.Counter{}
	}
	return counters[s.Pos.Counter]
}

// Service returns the service at the source position.
func (s Source) Service() types.Service {
	services := s.Tree.Services(s.Pos.Account, s.Pos.SubAccount)
	if s.Pos.Service < 0 || s.Pos.Service >= len(services) {
		return types.Service{}
	}
	return services[s.Pos.Service]
}

// Entity is the state of one sensor or button.
type Entity struct {
	UniqueID         string         `json:"uniqueID"`
	Key              string         `json:"key"`
	Platform         string         `json:"platform"`
	Name             string         `json:"name,omitempty"`
	DeviceClass      string         `json:"deviceClass,omitempty"`
	Unit             string         `json:"unit,omitempty"`
	StateClass       string         `json:"stateClass,omitempty"`
	Diagnostic       bool           `json:"diagnostic,omitempty"`
	EnabledByDefault bool           `json:"enabledByDefault"`
	Available        bool           `json:"available"`
	State            any            `json:"state"`
	Attributes       map[string]any `json:"attributes,omitempty"`
}

// Device is a device of the tree with its entities.
type Device struct {
	Identifier    string           `json:"identifier"`
	Kind          types.DeviceKind `json:"kind"`
	Name          string           `json:"name"`
	Model         string           `json:"model,omitempty"`
	SerialNumber  string           `json:"serialNumber,omitempty"`
	ViaIdentifier string           `json:"viaIdentifier,omitempty"`
	Entities      []Entity         `json:"entities"`
}

// Record converts d into a registry record for entryID.
func (d Device) Record(entryID string) types.Device {
	return types.Device{
		EntryID:          entryID,
		Identifier:       d.Identifier,
		Kind:             d.Kind,
		Name:             d.Name,
		Manufacturer:     Manufacturer,
		Model:            d.Model,
		SerialNumber:     d.SerialNumber,
		ConfigurationURL: ConfigurationURL,
		ViaIdentifier:    d.ViaIdentifier,
	}
}

// Find returns the entity with key, if the device has one.
func (d Device) Find(key string) (Entity, bool) {
	for _, e := range d.Entities {
		if e.Key == key {
			return e, true
		}
	}
	return Entity{}, false
}

func sensor(desc SensorDescription, device string, src Source) Entity {
	e := Entity{
		UniqueID:         ident.Entity(device, desc.Key),
		Key:              desc.Key,
		Platform:         "sensor",
		DeviceClass:      desc.DeviceClass,
		Unit:             desc.Unit,
		StateClass:       desc.StateClass,
		Diagnostic:       desc.Diagnostic,
		EnabledByDefault: !desc.DisabledByDefault,
		Available:        desc.Available == nil || desc.Available(src),
	}
	if e.Available {
		e.State = desc.Value(src)
		if desc.Attrs != nil {
			e.Attributes = desc.Attrs(src)
		}
	}
	return e
}

func buttons(device string) []Entity {
	out := make([]Entity, 0, len(Buttons))
	for _, b := range Buttons {
		out = append(out, Entity{
			UniqueID:         ident.Entity(device, b.Key),
			Key:              b.Key,
			Platform:         "button",
			Diagnostic:       true,
			EnabledByDefault: true,
			Available:        true,
		})
	}
	return out
}

func withAlias(name, alias string) string {
	if alias == "" {
		return name
	}
	return fmt.Sprintf("%s (%s)", name, alias)
}

// Build returns every device of snap with its entities, accounts first, then
// their counters and services, in tree order. Sub-accounts of a unified
// account share its number, so an identifier is emitted once, at its first
// position.
func Build(snap *coordinator.Snapshot) []Device {
	if snap == nil {
		return nil
	}
	tree := snap.Tree
	var devices []Device
	seen := map[string]bool{}
	add := func(d Device) {
		if seen[d.Identifier] {
			return
		}
		seen[d.Identifier] = true
		devices = append(devices, d)
	}
	for _, a := range tree.AccountIDs() {
		for l := range tree.SubAccounts(a) {
			number, ok := tree.AccountNumber(a, l)
			if !ok {
				continue
			}
			alias := tree.AccountAlias(a, l)
			accountID := ident.Account(number)
			src := Source{
				Tree:       tree,
				Pos:        coordinator.Position{Account: a, SubAccount: l, Counter: -1, Service: -1},
				LastUpdate: snap.LastUpdate,
			}

			if !seen[accountID] {
				account := Device{
					Identifier: accountID,
					Kind:       types.DeviceKindAccount,
					Name:       withAlias("ЛС "+number, alias),
					Model:      AccountModel,
				}
				for _, desc := range AccountSensors {
					account.Entities = append(account.Entities, sensor(desc, accountID, src))
				}
				account.Entities = append(account.Entities, buttons(accountID)...)
				add(account)
			}

			for i, c := range tree.Counters(a, l) {
				id := ident.Counter(number, c.UUID)
				if c.UUID == "" || seen[id] {
					continue
				}
				csrc := src
				csrc.Pos.Counter = i
				dev := Device{
					Identifier:    id,
					Kind:          types.DeviceKindCounter,
					Name:          withAlias(c.Name, alias),
					Model:         c.Model,
					SerialNumber:  c.SerialNumber,
					ViaIdentifier: accountID,
				}
				for _, desc := range CounterSensors {
					dev.Entities = append(dev.Entities, sensor(desc, id, csrc))
				}
				if c.Rates() > 1 {
					for _, desc := range MultiTariffSensors {
						dev.Entities = append(dev.Entities, sensor(desc, id, csrc))
					}
				}
				dev.Entities = append(dev.Entities, buttons(id)...)
				add(dev)
			}

			for i, s := range tree.Services(a, l) {
				id := ident.Service(number, s.ID.String())
				if s.ID == "" || seen[id] {
					continue
				}
				ssrc := src
				ssrc.Pos.Service = i
				dev := Device{
					Identifier:    id,
					Kind:          types.DeviceKindService,
					Name:          s.Name,
					Model:         ServiceModel,
					ViaIdentifier: accountID,
				}
				dev.Entities = append(dev.Entities, sensor(ServiceBalanceSensor, id, ssrc))
				for ci, child := range s.Children {
					e := sensor(tariffSensor(ci, child), id, ssrc)
					e.Name = child.Name
					dev.Entities = append(dev.Entities, e)
				}
				add(dev)
			}
		}
	}
	return devices
}

func tariffSensor(i int, child types.Child) SensorDescription {
	return SensorDescription{
		Key:         fmt.Sprintf("service_tariff_%d", i),
		DeviceClass: ClassMonetary,
		Unit:        UnitRUB,
		Value:       func(Source) any { return amount(child.Tariff) },
		Attrs: func(Source) map[string]any {
			return map[string]any{
				"norm":       amount(child.Norm),
				"price":      amount(child.Price),
				"start_date": date(child.StartDate, types.DateTimeLayout),
			}
		},
	}
}

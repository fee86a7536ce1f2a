// Package channel provides an in-memory channel-quality directory. Pathloss
// may be a constant or a JavaScript expression of subchannel and frame.
package channel

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"

	"github.com/dop251/goja"

	"github.com/me/rrsched/pkg/model"
)

// UserChannel describes the channel of one user.
type UserChannel struct {
	PathlossDB      float64 `yaml:"pathloss_db" json:"pathloss_db"`
	InterferenceDBm float64 `yaml:"interference_dbm" json:"interference_dbm"`
	// PathlossExpr, when set, is a JavaScript expression returning pathloss in
	// dB. It sees sc, frame and user.
	PathlossExpr string `yaml:"pathloss_expr,omitempty" json:"pathloss_expr,omitempty"`
	// ReferencePower (mW) is used to fill in Carrier.
	ReferencePower float64 `yaml:"-" json:"-"`
	// NoCQI hides the user from the directory.
	NoCQI bool `yaml:"no_cqi,omitempty" json:"no_cqi,omitempty"`
}

// Directory implements frame.ChannelDirectory.
type Directory struct {
	mu       sync.Mutex
	users    map[model.UserID]UserChannel
	programs map[model.UserID]*goja.Program
	vm       *goja.Runtime
	frame    int
	logger   *slog.Logger
}

// NewDirectory compiles every pathloss expression and evaluates it once at
// subchannel 0, frame 0 so broken expressions fail early.
func NewDirectory(users map[model.UserID]UserChannel, logger *slog.Logger) (*Directory, error) {
	d := &Directory{
		users:    make(map[model.UserID]UserChannel, len(users)),
		programs: make(map[model.UserID]*goja.Program),
		vm:       goja.New(),
		logger:   logger.With("component", "channel"),
	}
	ids := make([]model.UserID, 0, len(users))
	for u := range users {
		ids = append(ids, u)
	}
	slices.Sort(ids)
	for _, u := range ids {
		uc := users[u]
		d.users[u] = uc
		if uc.PathlossExpr == "" {
			continue
		}
		prog, err := goja.Compile(string(u), uc.PathlossExpr, true)
		if err != nil {
			return nil, fmt.Errorf("user %s: compile pathloss_expr: %w", u, err)
		}
		d.programs[u] = prog
		if _, err := d.evalPathloss(u, prog, 0); err != nil {
			return nil, fmt.Errorf("user %s: %w", u, err)
		}
	}
	return d, nil
}

// SetFrame sets the frame number expressions see.
func (d *Directory) SetFrame(frameNo int) {
	d.mu.Lock()
	d.frame = frameNo
	d.mu.Unlock()
}

// Estimate returns the channel of user on subChannel.
func (d *Directory) Estimate(user model.UserID, subChannel int) (model.ChannelQuality, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	uc, ok := d.users[user]
	if !ok || uc.NoCQI {
		return model.ChannelQuality{}, false
	}
	plDB := uc.PathlossDB
	if prog, ok := d.programs[user]; ok {
		v, err := d.evalPathloss(user, prog, subChannel)
		if err != nil {
			d.logger.Warn("pathloss expression failed", "user", user, "sc", subChannel, "error", err)
			return model.ChannelQuality{}, false
		}
		plDB = v
	}
	q := model.ChannelQuality{
		Pathloss:     model.Linear(plDB),
		Interference: model.Linear(uc.InterferenceDBm),
	}
	return q.WithTxPower(uc.ReferencePower), true
}

// evalPathloss runs prog with the caller holding mu.
func (d *Directory) evalPathloss(user model.UserID, prog *goja.Program, sc int) (float64, error) {
	if err := d.vm.Set("sc", sc); err != nil {
		return 0, fmt.Errorf("set sc: %w", err)
	}
	if err := d.vm.Set("frame", d.frame); err != nil {
		return 0, fmt.Errorf("set frame: %w", err)
	}
	if err := d.vm.Set("user", string(user)); err != nil {
		return 0, fmt.Errorf("set user: %w", err)
	}
	val, err := d.vm.RunProgram(prog)
	if err != nil {
		return 0, fmt.Errorf("evaluate pathloss_expr: %w", err)
	}
	if val == nil || goja.IsUndefined(val) || goja.IsNull(val) {
		return 0, fmt.Errorf("pathloss_expr returned no value")
	}
	f := val.ToFloat()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("pathloss_expr returned %v", val)
	}
	return f, nil
}

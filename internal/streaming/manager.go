package streaming

import (
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/earthring/server/internal/ringmap"
	"github.com/earthring/server/internal/zonequery"
)

// Manager coordinates server-driven streaming subscriptions.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	byUser        map[int64]map[string]struct{}
}

// Subscription tracks an individual client's request window.
type Subscription struct {
	ID              string
	UserID          int64
	Request         SubscriptionRequest
	ChunkIDs        []string
	ZoneBoundingBox *ZoneBoundingBox // Track current zone query area
	ZoneIDs         []int64          // Track current zone IDs in subscription
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ChunkDelta describes server-evaluated chunk changes for a subscription.
type ChunkDelta struct {
	SubscriptionID string
	AddedChunks    []string
	RemovedChunks  []string
	CurrentChunks  []string
}

// ZoneDelta describes server-evaluated zone changes for a subscription.
type ZoneDelta struct {
	SubscriptionID string
	AddedZoneIDs   []int64
	RemovedZoneIDs []int64
	CurrentZoneIDs []int64
	Zones          []zonequery.ZoneFeature
}

// NewManager builds a streaming manager instance.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*Subscription),
		byUser:        make(map[int64]map[string]struct{}),
	}
}

// CameraPose describes the player's viewing position for streaming decisions.
type CameraPose struct {
	// Legacy coordinates (for backward compatibility)
	RingPosition int64   `json:"ring_position,omitempty"` // Absolute X position in meters (legacy)
	WidthOffset  float64 `json:"width_offset,omitempty"`  // Y offset (meters) (legacy)

	// New coordinate system (RingPolar)
	Theta float64 `json:"theta,omitempty"` // Angle around ring in radians (0 at Kongo Hub)
	R     float64 `json:"r,omitempty"`     // Radial offset from centerline in meters
	Z     float64 `json:"z,omitempty"`     // Vertical offset from equatorial plane in meters

	// Alternative: RingArc coordinates
	ArcLength float64 `json:"arc_length,omitempty"` // Arc length along ring in meters (0 at Kongo Hub)

	// Common fields
	Elevation   float64 `json:"elevation"`    // Camera height in meters
	ActiveFloor int     `json:"active_floor"` // Player-selected floor
}

// SubscriptionRequest is sent by clients to begin receiving streaming data.
type SubscriptionRequest struct {
	Pose          CameraPose `json:"pose"`
	RadiusMeters  int64      `json:"radius_meters"`  // Ring distance to include
	WidthMeters   float64    `json:"width_meters"`   // +/- width slice for zones
	IncludeChunks bool       `json:"include_chunks"` // Request chunk deltas
	IncludeZones  bool       `json:"include_zones"`  // Request zone deltas
}

// SubscriptionPlan captures the initial server response for a subscription.
type SubscriptionPlan struct {
	SubscriptionID string   `json:"subscription_id"`
	ChunkIDs       []string `json:"chunk_ids,omitempty"`
}

// PlanSubscription validates the request and registers the subscription plan.
func (m *Manager) PlanSubscription(userID int64, req SubscriptionRequest) (*SubscriptionPlan, error) {
	if req.RadiusMeters <= 0 {
		return nil, ErrInvalidSubscriptionRequest
	}
	if req.RadiusMeters > ringmap.RingCircumference {
		return nil, ErrInvalidSubscriptionRequest
	}
	if !req.IncludeChunks && !req.IncludeZones {
		return nil, ErrInvalidSubscriptionRequest
	}

	chunkIDs := ComputeChunkWindow(req.Pose, req.RadiusMeters)
	subscriptionID := uuid.NewString()

	var zoneBBox *ZoneBoundingBox
	if req.IncludeZones {
		bbox := ComputeZoneBoundingBox(req.Pose, req.RadiusMeters, req.WidthMeters)
		zoneBBox = &bbox
	}

	subscription := &Subscription{
		ID:              subscriptionID,
		UserID:          userID,
		Request:         req,
		ChunkIDs:        chunkIDs,
		ZoneBoundingBox: zoneBBox,
		ZoneIDs:         []int64{}, // Will be populated when zones are loaded
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}

	m.mu.Lock()
	m.subscriptions[subscriptionID] = subscription
	if m.byUser[userID] == nil {
		m.byUser[userID] = make(map[string]struct{})
	}
	m.byUser[userID][subscriptionID] = struct{}{}
	m.mu.Unlock()

	return &SubscriptionPlan{
		SubscriptionID: subscriptionID,
		ChunkIDs:       chunkIDs,
	}, nil
}

// UpdatePose recomputes the subscription window and returns chunk deltas.
// Zone deltas are computed separately (see ZoneWindow) since they require a
// storage round trip that must happen outside the subscription lock.
func (m *Manager) UpdatePose(userID int64, subscriptionID string, pose CameraPose) (*ChunkDelta, error) {
	if subscriptionID == "" {
		return nil, ErrInvalidSubscriptionRequest
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	subscription, ok := m.subscriptions[subscriptionID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	if subscription.UserID != userID {
		return nil, ErrOwnershipViolation
	}

	log.Printf("[Stream] UpdatePose: subscription=%s, pose.ArcLength=%.0f, pose.Theta=%.6f, pose.RingPosition=%d, floor=%d",
		subscriptionID, pose.ArcLength, pose.Theta, pose.RingPosition, pose.ActiveFloor)
	newChunkIDs := ComputeChunkWindow(pose, subscription.Request.RadiusMeters)
	added, removed := diffChunkSets(subscription.ChunkIDs, newChunkIDs)
	log.Printf("[Stream] UpdatePose: added=%d chunks, removed=%d chunks", len(added), len(removed))

	if subscription.Request.IncludeZones {
		newBBox := ComputeZoneBoundingBox(pose, subscription.Request.RadiusMeters, subscription.Request.WidthMeters)
		subscription.ZoneBoundingBox = &newBBox
	}

	subscription.ChunkIDs = newChunkIDs
	subscription.Request.Pose = pose
	subscription.UpdatedAt = time.Now()

	return &ChunkDelta{
		SubscriptionID: subscriptionID,
		AddedChunks:    added,
		RemovedChunks:  removed,
		CurrentChunks:  newChunkIDs,
	}, nil
}

// ZoneWindow runs the ring-wrap-aware zone query (zonequery.Window) against
// the subscription's current pose and radius, then folds the result into a
// ZoneDelta against the subscription's previously-known zone set. The
// storage round trip happens before the lock is taken; only the pure delta
// bookkeeping is guarded.
func (m *Manager) ZoneWindow(store zonequery.ZoneStorage, subscriptionID string) (*ZoneDelta, error) {
	m.mu.RLock()
	subscription, ok := m.subscriptions[subscriptionID]
	if !ok {
		m.mu.RUnlock()
		return nil, ErrSubscriptionNotFound
	}
	pose := subscription.Request.Pose
	radius := float64(subscription.Request.RadiusMeters)
	width := subscription.Request.WidthMeters
	if width <= 0 {
		width = 5000.0
	}
	floor := pose.ActiveFloor
	s := arcPositionOf(pose)
	m.mu.RUnlock()

	zones, err := zonequery.Window(store, floor, s, radius, width)
	if err != nil {
		return nil, err
	}

	newIDs := make([]int64, len(zones))
	for i, z := range zones {
		newIDs[i] = z.ID
	}

	return m.ComputeZoneDelta(subscriptionID, newIDs, zones)
}

func arcPositionOf(pose CameraPose) float64 {
	if pose.ArcLength != 0 {
		return ringmap.WrapArcLength(pose.ArcLength)
	}
	if pose.Theta != 0 {
		arc := ringmap.RingPolarToRingArc(ringmap.RingPolar{Theta: pose.Theta, R: pose.R, Z: pose.Z})
		return ringmap.WrapArcLength(arc.S)
	}
	return ringmap.WrapArcLength(float64(ringmap.WrapPosition(pose.RingPosition)))
}

// ComputeZoneDelta compares newZoneIDs with the subscription's previously
// known zone set, updates the subscription, and returns the delta.
func (m *Manager) ComputeZoneDelta(subscriptionID string, newZoneIDs []int64, zones []zonequery.ZoneFeature) (*ZoneDelta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subscription, ok := m.subscriptions[subscriptionID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}

	added, removed := diffZoneSets(subscription.ZoneIDs, newZoneIDs)
	subscription.ZoneIDs = newZoneIDs
	subscription.UpdatedAt = time.Now()

	return &ZoneDelta{
		SubscriptionID: subscriptionID,
		AddedZoneIDs:   added,
		RemovedZoneIDs: removed,
		CurrentZoneIDs: newZoneIDs,
		Zones:          zones,
	}, nil
}

// GetSubscription retrieves a subscription by ID (for use by websocket handler).
func (m *Manager) GetSubscription(subscriptionID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subscription, ok := m.subscriptions[subscriptionID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return subscription, nil
}

// Unsubscribe removes a subscription owned by userID. Returns
// ErrOwnershipViolation if the subscription belongs to a different user, and
// ErrSubscriptionNotFound if it does not exist.
func (m *Manager) Unsubscribe(userID int64, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	subscription, ok := m.subscriptions[subscriptionID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	if subscription.UserID != userID {
		return ErrOwnershipViolation
	}

	delete(m.subscriptions, subscriptionID)
	if ids := m.byUser[userID]; ids != nil {
		delete(ids, subscriptionID)
		if len(ids) == 0 {
			delete(m.byUser, userID)
		}
	}
	return nil
}

// DropConnection removes every subscription owned by userID, for use when a
// websocket connection closes without an explicit unsubscribe.
func (m *Manager) DropConnection(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := m.byUser[userID]
	for id := range ids {
		delete(m.subscriptions, id)
	}
	delete(m.byUser, userID)
}

// ComputeChunkWindow derives the chunk IDs close to the provided pose and radius.
// Supports both legacy (RingPosition) and new (RingPolar/RingArc) coordinate systems.
func ComputeChunkWindow(pose CameraPose, radiusMeters int64) []string {
	if radiusMeters <= 0 {
		return nil
	}

	var centerIndex int

	// Use new coordinate system if available (preferred)
	if pose.ArcLength != 0 || pose.Theta != 0 {
		// Use RingArc if available (more direct for chunk computation)
		if pose.ArcLength != 0 {
			arc := ringmap.RingArc{
				S: pose.ArcLength,
				R: pose.R,
				Z: pose.Z,
			}
			centerIndex = ringmap.RingArcToChunkIndex(arc)
		} else if pose.Theta != 0 {
			// Use RingPolar (convert to chunk index via RingArc)
			polar := ringmap.RingPolar{
				Theta: pose.Theta,
				R:     pose.R,
				Z:     pose.Z,
			}
			centerIndex = ringmap.RingPolarToChunkIndex(polar)
		}
	} else {
		// Fall back to legacy coordinate system
		centerIndex = ringmap.PositionToChunkIndex(pose.RingPosition)
	}

	chunkRadius := int(math.Ceil(float64(radiusMeters) / float64(ringmap.ChunkLength)))

	seen := make(map[int]struct{})
	var indices []int

	for offset := -chunkRadius; offset <= chunkRadius; offset++ {
		idx := ringmap.WrapChunkIndex(centerIndex + offset)
		if _, exists := seen[idx]; exists {
			continue
		}
		seen[idx] = struct{}{}
		indices = append(indices, idx)
	}

	// Nearest-first ordering by wrap distance from the center chunk, so async
	// fill workers populate the closest chunks before the far edge of the window.
	sortByWrapDistance(indices, centerIndex)

	chunkIDs := make([]string, len(indices))
	for i, idx := range indices {
		chunkIDs[i] = fmt.Sprintf("%d_%d", pose.ActiveFloor, idx)
	}

	return chunkIDs
}

func sortByWrapDistance(indices []int, center int) {
	for i := 1; i < len(indices); i++ {
		j := i
		for j > 0 && wrapChunkDistance(indices[j], center) < wrapChunkDistance(indices[j-1], center) {
			indices[j], indices[j-1] = indices[j-1], indices[j]
			j--
		}
	}
}

func wrapChunkDistance(idx, center int) int {
	d := idx - center
	if d < 0 {
		d = -d
	}
	total := ringmap.ChunkCount
	if d > total/2 {
		d = total - d
	}
	return d
}

// ZoneBoundingBox represents the area to query for zones.
// Supports both legacy (X/Y) and new (theta/r or s/r) coordinate systems.
type ZoneBoundingBox struct {
	Floor int // Active floor

	// Legacy coordinates (for backward compatibility)
	MinX float64 // Minimum X (ring position)
	MinY float64 // Minimum Y (width offset)
	MaxX float64 // Maximum X (ring position)
	MaxY float64 // Maximum Y (width offset)

	// New coordinate system (RingPolar)
	MinTheta float64 // Minimum theta (angle in radians)
	MaxTheta float64 // Maximum theta (angle in radians)
	MinR     float64 // Minimum r (radial offset)
	MaxR     float64 // Maximum r (radial offset)
	MinZ     float64 // Minimum z (vertical offset)
	MaxZ     float64 // Maximum z (vertical offset)

	// Alternative: RingArc coordinates
	MinS float64 // Minimum s (arc length)
	MaxS float64 // Maximum s (arc length)
}

// ComputeZoneBoundingBox calculates the bounding box for zone queries based on camera pose and radius.
// Handles ring wrapping correctly. Supports both legacy and new coordinate systems.
func ComputeZoneBoundingBox(pose CameraPose, radiusMeters int64, widthMeters float64) ZoneBoundingBox {
	bbox := ZoneBoundingBox{
		Floor: pose.ActiveFloor,
	}

	if widthMeters <= 0 {
		widthMeters = 5000.0
	}

	if pose.ArcLength != 0 || pose.Theta != 0 {
		if pose.ArcLength != 0 {
			wrappedS := ringmap.WrapArcLength(pose.ArcLength)
			bbox.MinS = wrappedS - float64(radiusMeters)
			bbox.MaxS = wrappedS + float64(radiusMeters)
			bbox.MinR = pose.R - widthMeters/2
			bbox.MaxR = pose.R + widthMeters/2
			bbox.MinZ = pose.Z - widthMeters/2
			bbox.MaxZ = pose.Z + widthMeters/2
		} else if pose.Theta != 0 {
			wrappedTheta := ringmap.WrapTheta(pose.Theta)
			arc := ringmap.RingPolarToRingArc(ringmap.RingPolar{
				Theta: wrappedTheta,
				R:     pose.R,
				Z:     pose.Z,
			})
			wrappedS := ringmap.WrapArcLength(arc.S)
			bbox.MinS = wrappedS - float64(radiusMeters)
			bbox.MaxS = wrappedS + float64(radiusMeters)
			bbox.MinR = pose.R - widthMeters/2
			bbox.MaxR = pose.R + widthMeters/2
			bbox.MinZ = pose.Z - widthMeters/2
			bbox.MaxZ = pose.Z + widthMeters/2

			thetaRadius := float64(radiusMeters) / ringmap.RingRadius
			bbox.MinTheta = wrappedTheta - thetaRadius
			bbox.MaxTheta = wrappedTheta + thetaRadius
		}
	} else {
		wrappedX := float64(ringmap.WrapPosition(pose.RingPosition))

		bbox.MinX = wrappedX - float64(radiusMeters)
		bbox.MaxX = wrappedX + float64(radiusMeters)

		if bbox.MinX < 0 {
			bbox.MinX = 0
		}
		if bbox.MaxX > float64(ringmap.RingCircumference) {
			bbox.MaxX = float64(ringmap.RingCircumference)
		}

		bbox.MinY = pose.WidthOffset - widthMeters/2
		bbox.MaxY = pose.WidthOffset + widthMeters/2

		const maxWidth = 2500.0
		if bbox.MinY < -maxWidth {
			bbox.MinY = -maxWidth
		}
		if bbox.MaxY > maxWidth {
			bbox.MaxY = maxWidth
		}
	}

	if bbox.MinS < 0 {
		bbox.MinS = ringmap.WrapArcLength(bbox.MinS)
	}
	if bbox.MaxS > float64(ringmap.RingCircumference) {
		bbox.MaxS = ringmap.WrapArcLength(bbox.MaxS)
	}

	if bbox.MinR != 0 || bbox.MaxR != 0 {
		const maxWidth = 2500.0
		if bbox.MinR < -maxWidth {
			bbox.MinR = -maxWidth
		}
		if bbox.MaxR > maxWidth {
			bbox.MaxR = maxWidth
		}
	}

	return bbox
}

func diffChunkSets(previous, next []string) (added []string, removed []string) {
	prevSet := make(map[string]struct{}, len(previous))
	nextSet := make(map[string]struct{}, len(next))

	for _, id := range previous {
		prevSet[id] = struct{}{}
	}
	for _, id := range next {
		nextSet[id] = struct{}{}
		if _, exists := prevSet[id]; !exists {
			added = append(added, id)
		}
	}
	for _, id := range previous {
		if _, exists := nextSet[id]; !exists {
			removed = append(removed, id)
		}
	}
	return
}

func diffZoneSets(previous, next []int64) (added []int64, removed []int64) {
	prevSet := make(map[int64]struct{}, len(previous))
	nextSet := make(map[int64]struct{}, len(next))

	for _, id := range previous {
		prevSet[id] = struct{}{}
	}
	for _, id := range next {
		nextSet[id] = struct{}{}
		if _, exists := prevSet[id]; !exists {
			added = append(added, id)
		}
	}
	for _, id := range previous {
		if _, exists := nextSet[id]; !exists {
			removed = append(removed, id)
		}
	}
	return
}

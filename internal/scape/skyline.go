package scape

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/paulmach/orb"
)

// SkylineSensorCount is the length of the vector returned by Skyline.Sense.
const SkylineSensorCount = 5

// SkylineConfig sizes the side-scrolling obstacle course. Vertical
// coordinates grow downward from 0 at the top edge.
type SkylineConfig struct {
	Width           float64 `json:"width" yaml:"width" ini:"width"`
	Height          float64 `json:"height" yaml:"height" ini:"height"`
	AgentSize       float64 `json:"agent_size" yaml:"agent_size" ini:"agent_size"`
	Gravity         float64 `json:"gravity" yaml:"gravity" ini:"gravity"`
	Thrust          float64 `json:"thrust" yaml:"thrust" ini:"thrust"`
	VelocityScale   float64 `json:"velocity_scale" yaml:"velocity_scale" ini:"velocity_scale"`
	ObstacleWidth   float64 `json:"obstacle_width" yaml:"obstacle_width" ini:"obstacle_width"`
	ObstacleGap     float64 `json:"obstacle_gap" yaml:"obstacle_gap" ini:"obstacle_gap"`
	ObstacleSpacing float64 `json:"obstacle_spacing" yaml:"obstacle_spacing" ini:"obstacle_spacing"`
	InitialCount    int     `json:"initial_obstacles" yaml:"initial_obstacles" ini:"initial_obstacles"`
	TopMin          float64 `json:"top_min" yaml:"top_min" ini:"top_min"`
	TopSpread       float64 `json:"top_spread" yaml:"top_spread" ini:"top_spread"`
	ScrollSpeed     float64 `json:"scroll_speed" yaml:"scroll_speed" ini:"scroll_speed"`
	Seed            int64   `json:"seed" yaml:"seed" ini:"seed"`
}

func DefaultSkylineConfig() SkylineConfig {
	return SkylineConfig{
		Width:           600,
		Height:          600,
		AgentSize:       20,
		Gravity:         1,
		Thrust:          10,
		VelocityScale:   10,
		ObstacleWidth:   20,
		ObstacleGap:     200,
		ObstacleSpacing: 300,
		InitialCount:    3,
		TopMin:          150,
		TopSpread:       150,
		ScrollSpeed:     10,
		Seed:            1,
	}
}

func (c SkylineConfig) AgentX() float64 {
	return c.Width / 3
}

func (c SkylineConfig) Validate() error {
	switch {
	case c.Width <= 0 || c.Height <= 0:
		return fmt.Errorf("skyline world must have positive size, got %fx%f", c.Width, c.Height)
	case c.AgentSize <= 0 || c.AgentSize >= c.Height:
		return fmt.Errorf("skyline agent size must be in (0, height), got %f", c.AgentSize)
	case c.VelocityScale == 0:
		return fmt.Errorf("skyline velocity scale must be non-zero")
	case c.ObstacleWidth <= 0:
		return fmt.Errorf("skyline obstacle width must be > 0")
	case c.ObstacleGap <= 0 || c.TopMin+c.TopSpread+c.ObstacleGap > c.Height:
		return fmt.Errorf("skyline obstacle gap %f does not fit height %f", c.ObstacleGap, c.Height)
	case c.ObstacleSpacing <= 0 || c.ObstacleSpacing >= c.Width-c.AgentX():
		return fmt.Errorf("skyline obstacle spacing must be in (0, %f), got %f", c.Width-c.AgentX(), c.ObstacleSpacing)
	case c.InitialCount <= 0:
		return fmt.Errorf("skyline needs at least one initial obstacle")
	case c.ScrollSpeed <= 0:
		return fmt.Errorf("skyline scroll speed must be > 0")
	}
	return nil
}

// Obstacle is a pair of segments: [0, Top] from the ceiling and
// [height-Bottom, height] from the floor.
type Obstacle struct {
	X      float64 `json:"x"`
	Top    float64 `json:"top"`
	Bottom float64 `json:"bottom"`
	passed bool
}

type body struct {
	y     float64
	vy    float64
	alive bool
	tally Tally
}

// Skyline is a headless side-scrolling course: agents hold a fixed x and
// fight gravity with thrust while obstacles scroll toward them.
type Skyline struct {
	cfg       SkylineConfig
	rng       *rand.Rand
	bodies    []body
	obstacles []Obstacle
}

func NewSkyline(cfg SkylineConfig) (*Skyline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Skyline{
		cfg: cfg,
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

func (*Skyline) Name() string {
	return "skyline"
}

func (s *Skyline) Config() SkylineConfig {
	return s.cfg
}

func (s *Skyline) Reset(populationSize int) error {
	if populationSize <= 0 {
		return fmt.Errorf("population size must be > 0")
	}
	s.bodies = make([]body, populationSize)
	for i := range s.bodies {
		s.bodies[i] = body{y: s.cfg.Height / 2, alive: true}
	}
	s.obstacles = s.obstacles[:0]
	for i := 0; i < s.cfg.InitialCount; i++ {
		s.obstacles = append(s.obstacles, s.newObstacle(s.cfg.Width+float64(i)*s.cfg.ObstacleSpacing))
	}
	return nil
}

func (s *Skyline) newObstacle(x float64) Obstacle {
	top := math.Floor(s.rng.Float64()*s.cfg.TopSpread + s.cfg.TopMin)
	return Obstacle{
		X:      x,
		Top:    top,
		Bottom: s.cfg.Height - top - s.cfg.ObstacleGap,
	}
}

func (s *Skyline) Advance() error {
	if s.bodies == nil {
		return fmt.Errorf("skyline advanced before reset")
	}
	for i := range s.obstacles {
		s.obstacles[i].X -= s.cfg.ScrollSpeed
	}

	for i := range s.bodies {
		if !s.bodies[i].alive {
			continue
		}
		agentBound := s.agentBound(s.bodies[i].y)
		for _, obstacle := range s.obstacles {
			top, bottom := s.obstacleBounds(obstacle)
			if agentBound.Intersects(top) || agentBound.Intersects(bottom) {
				s.bodies[i].alive = false
				break
			}
		}
	}

	kept := s.obstacles[:0]
	for _, obstacle := range s.obstacles {
		if obstacle.X+s.cfg.ObstacleWidth >= 0 {
			kept = append(kept, obstacle)
		}
	}
	s.obstacles = kept
	if len(s.obstacles) == 0 || s.obstacles[len(s.obstacles)-1].X < s.cfg.Width-s.cfg.ObstacleSpacing {
		s.obstacles = append(s.obstacles, s.newObstacle(s.cfg.Width))
	}

	agentX := s.cfg.AgentX()
	for i := range s.obstacles {
		if s.obstacles[i].passed || s.obstacles[i].X+s.cfg.ObstacleWidth >= agentX {
			continue
		}
		s.obstacles[i].passed = true
		for j := range s.bodies {
			if s.bodies[j].alive {
				s.bodies[j].tally.Score++
			}
		}
	}
	return nil
}

// Sense returns [y/H, top/H, bottom/H, dx/W, vy/VelocityScale] for the
// nearest obstacle whose trailing edge is still ahead of the agent.
func (s *Skyline) Sense(agentID int) ([]float64, error) {
	b, err := s.body(agentID)
	if err != nil {
		return nil, err
	}
	next, ok := s.nextObstacle()
	if !ok {
		return nil, fmt.Errorf("skyline has no obstacle ahead of agent %d", agentID)
	}
	return []float64{
		b.y / s.cfg.Height,
		next.Top / s.cfg.Height,
		next.Bottom / s.cfg.Height,
		(next.X - s.cfg.AgentX()) / s.cfg.Width,
		b.vy / s.cfg.VelocityScale,
	}, nil
}

func (s *Skyline) ApplyAction(agentID int, act bool) error {
	b, err := s.body(agentID)
	if err != nil {
		return err
	}
	if !b.alive {
		return nil
	}
	if act {
		b.vy -= s.cfg.Thrust
	}
	if b.y > s.cfg.Height-s.cfg.AgentSize || b.y < 0 {
		b.alive = false
		return nil
	}
	b.tally.SurvivalTicks++
	b.vy += s.cfg.Gravity
	b.y += b.vy
	return nil
}

func (s *Skyline) Alive(agentID int) bool {
	b, err := s.body(agentID)
	return err == nil && b.alive
}

func (s *Skyline) Tally(agentID int) (Tally, error) {
	b, err := s.body(agentID)
	if err != nil {
		return Tally{}, err
	}
	return b.tally, nil
}

// Obstacles returns a copy of the current course for renderers.
func (s *Skyline) Obstacles() []Obstacle {
	return append([]Obstacle(nil), s.obstacles...)
}

// Position returns an agent's vertical position and velocity.
func (s *Skyline) Position(agentID int) (y, vy float64, err error) {
	b, err := s.body(agentID)
	if err != nil {
		return 0, 0, err
	}
	return b.y, b.vy, nil
}

func (s *Skyline) body(agentID int) (*body, error) {
	if agentID < 0 || agentID >= len(s.bodies) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAgent, agentID)
	}
	return &s.bodies[agentID], nil
}

func (s *Skyline) nextObstacle() (Obstacle, bool) {
	agentX := s.cfg.AgentX()
	for _, obstacle := range s.obstacles {
		if obstacle.X+s.cfg.ObstacleWidth > agentX {
			return obstacle, true
		}
	}
	return Obstacle{}, false
}

func (s *Skyline) agentBound(y float64) orb.Bound {
	x := s.cfg.AgentX()
	return orb.Bound{
		Min: orb.Point{x, y},
		Max: orb.Point{x + s.cfg.AgentSize, y + s.cfg.AgentSize},
	}
}

func (s *Skyline) obstacleBounds(o Obstacle) (top, bottom orb.Bound) {
	top = orb.Bound{
		Min: orb.Point{o.X, 0},
		Max: orb.Point{o.X + s.cfg.ObstacleWidth, o.Top},
	}
	bottom = orb.Bound{
		Min: orb.Point{o.X, s.cfg.Height - o.Bottom},
		Max: orb.Point{o.X + s.cfg.ObstacleWidth, s.cfg.Height},
	}
	return top, bottom
}

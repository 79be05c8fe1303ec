package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when a plant ID is not in the user's list.
var ErrNotFound = errors.New("plant not found")

// maxTxRetries bounds optimistic-lock retries when concurrent writers collide.
const maxTxRetries = 5

// Plant mirrors the app's plant record. Optional fields are omitted when empty.
type Plant struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	Icon           string `json:"icon"`
	Type           string `json:"type"`
	Progress       string `json:"progress"`
	PhotoURI       string `json:"photoUri,omitempty"`
	ImageURI       string `json:"imageUri,omitempty"`
	ScientificName string `json:"scientificName,omitempty"`
	WaterStatus    string `json:"waterStatus,omitempty"`
	Temperature    string `json:"temperature,omitempty"`
}

// PlantStore keeps each user's plant list as one JSON array under
// "<prefix>:<username>".
type PlantStore struct {
	client *redis.Client
	prefix string
}

func NewPlantStore(client *redis.Client, prefix string) *PlantStore {
	if prefix == "" {
		prefix = "SMART_GARDEN_PLANTS"
	}
	return &PlantStore{client: client, prefix: prefix}
}

func (s *PlantStore) key(user string) string { return fmt.Sprintf("%s:%s", s.prefix, user) }

// LoadPlants returns the user's plants, or an empty slice when none are stored.
func (s *PlantStore) LoadPlants(ctx context.Context, user string) ([]Plant, error) {
	raw, err := s.client.Get(ctx, s.key(user)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load plants: %w", err)
	}
	return decodePlants(raw)
}

// SavePlants replaces the user's whole list and returns it with IDs assigned
// to plants that had none.
func (s *PlantStore) SavePlants(ctx context.Context, user string, plants []Plant) ([]Plant, error) {
	plants = assignIDs(plants)
	data, err := encodePlants(plants)
	if err != nil {
		return nil, err
	}
	if err := s.client.Set(ctx, s.key(user), data, 0).Err(); err != nil {
		return nil, fmt.Errorf("save plants: %w", err)
	}
	log.Debug().Str("user", user).Int("count", len(plants)).Msg("plants saved")
	return plants, nil
}

// AddPlant appends p, assigning an ID when p has none.
func (s *PlantStore) AddPlant(ctx context.Context, user string, p Plant) (Plant, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	err := s.mutate(ctx, user, func(plants []Plant) ([]Plant, error) {
		return append(plants, p), nil
	})
	if err != nil {
		return Plant{}, fmt.Errorf("add plant: %w", err)
	}
	return p, nil
}

// UpdatePlant replaces the plant with the same ID.
func (s *PlantStore) UpdatePlant(ctx context.Context, user string, p Plant) error {
	err := s.mutate(ctx, user, func(plants []Plant) ([]Plant, error) {
		return replacePlant(plants, p)
	})
	if err != nil {
		return fmt.Errorf("update plant %s: %w", p.ID, err)
	}
	return nil
}

// DeletePlant removes the plant with the given ID.
func (s *PlantStore) DeletePlant(ctx context.Context, user, id string) error {
	err := s.mutate(ctx, user, func(plants []Plant) ([]Plant, error) {
		return removePlant(plants, id)
	})
	if err != nil {
		return fmt.Errorf("delete plant %s: %w", id, err)
	}
	return nil
}

// ClearPlants drops the user's list.
func (s *PlantStore) ClearPlants(ctx context.Context, user string) error {
	if err := s.client.Del(ctx, s.key(user)).Err(); err != nil {
		return fmt.Errorf("clear plants: %w", err)
	}
	return nil
}

// mutate runs a read-modify-write of the user's list under WATCH, retrying
// when another writer changed the key in between.
func (s *PlantStore) mutate(ctx context.Context, user string, fn func([]Plant) ([]Plant, error)) error {
	key := s.key(user)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		plants, err := decodePlants(raw)
		if err != nil {
			return err
		}
		next, err := fn(plants)
		if err != nil {
			return err
		}
		data, err := encodePlants(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		log.Debug().Str("key", key).Int("try", i+1).Msg("plant list changed concurrently, retrying")
	}
	return fmt.Errorf("plant list %s: too many concurrent writers", key)
}

func decodePlants(raw string) ([]Plant, error) {
	if raw == "" {
		return []Plant{}, nil
	}
	var plants []Plant
	if err := json.Unmarshal([]byte(raw), &plants); err != nil {
		return nil, fmt.Errorf("decode plants: %w", err)
	}
	if plants == nil {
		plants = []Plant{}
	}
	return plants, nil
}

func encodePlants(plants []Plant) ([]byte, error) {
	if plants == nil {
		plants = []Plant{}
	}
	b, err := json.Marshal(plants)
	if err != nil {
		return nil, fmt.Errorf("encode plants: %w", err)
	}
	return b, nil
}

func assignIDs(plants []Plant) []Plant {
	out := make([]Plant, len(plants))
	for i, p := range plants {
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		out[i] = p
	}
	return out
}

func replacePlant(plants []Plant, p Plant) ([]Plant, error) {
	for i := range plants {
		if plants[i].ID == p.ID {
			out := append([]Plant(nil), plants...)
			out[i] = p
			return out, nil
		}
	}
	return nil, ErrNotFound
}

func removePlant(plants []Plant, id string) ([]Plant, error) {
	out := make([]Plant, 0, len(plants))
	for _, p := range plants {
		if p.ID != id {
			out = append(out, p)
		}
	}
	if len(out) == len(plants) {
		return nil, ErrNotFound
	}
	return out, nil
}

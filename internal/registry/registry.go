package registry

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Agent 描述一个已登记的智能体及其完整的所有权与版本历史。
type Agent struct {
	ID               uint64           `json:"id"`
	Owner            common.Address   `json:"owner"`
	ContentPointer   string           `json:"content_pointer"`
	PreviousOwners   []common.Address `json:"previous_owners"`
	PreviousVersions []string         `json:"previous_versions"`
	Valid            bool             `json:"valid"`
	CreatedAt        int64            `json:"created_at"`
	UpdatedAt        int64            `json:"updated_at"`
	BurnedAt         int64            `json:"burned_at,omitempty"`
}

func (a *Agent) clone() *Agent {
	if a == nil {
		return nil
	}
	dup := *a
	dup.PreviousOwners = make([]common.Address, len(a.PreviousOwners))
	copy(dup.PreviousOwners, a.PreviousOwners)
	dup.PreviousVersions = make([]string, len(a.PreviousVersions))
	copy(dup.PreviousVersions, a.PreviousVersions)
	return &dup
}

// ListingChecker 由拍卖引擎实现，登记簿只通过它判断智能体是否仍在挂牌。
type ListingChecker interface {
	HasActiveListing(agentID uint64, now int64) bool
}

// ListingCheckerFunc 允许使用普通函数作为 ListingChecker。
type ListingCheckerFunc func(agentID uint64, now int64) bool

// HasActiveListing 实现 ListingChecker。
func (f ListingCheckerFunc) HasActiveListing(agentID uint64, now int64) bool {
	if f == nil {
		return false
	}
	return f(agentID, now)
}

// Option 自定义登记簿。
type Option func(*Registry)

// WithListingChecker 注入挂牌状态查询能力。
func WithListingChecker(checker ListingChecker) Option {
	return func(r *Registry) {
		if checker != nil {
			r.listings = checker
		}
	}
}

// Registry 维护 id 到智能体记录的权威映射。
//
// Registry 本身不加锁，调用方（账本）负责串行化所有写入。
type Registry struct {
	agents   map[uint64]*Agent
	order    []uint64
	nextID   uint64
	listings ListingChecker
}

// New 创建空的登记簿，编号从 1 开始分配。
func New(opts ...Option) *Registry {
	r := &Registry{
		agents:   make(map[uint64]*Agent),
		nextID:   1,
		listings: ListingCheckerFunc(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Register 创建新的智能体，返回分配的编号。
func (r *Registry) Register(owner common.Address, pointer string, now int64) (uint64, error) {
	if owner == (common.Address{}) {
		return 0, ErrEmptyOwner
	}
	pointer = strings.TrimSpace(pointer)
	if pointer == "" {
		return 0, ErrEmptyPointer
	}

	id := r.nextID
	r.nextID++
	r.agents[id] = &Agent{
		ID:               id,
		Owner:            owner,
		ContentPointer:   pointer,
		PreviousOwners:   []common.Address{},
		PreviousVersions: []string{},
		Valid:            true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	r.order = append(r.order, id)
	return id, nil
}

// UpdateVersion 替换内容指针，并把旧指针追加到版本历史。
func (r *Registry) UpdateVersion(id uint64, pointer string, caller common.Address, now int64) error {
	agent, err := r.mutable(id, caller)
	if err != nil {
		return err
	}
	pointer = strings.TrimSpace(pointer)
	if pointer == "" {
		return ErrEmptyPointer
	}
	agent.PreviousVersions = append(agent.PreviousVersions, agent.ContentPointer)
	agent.ContentPointer = pointer
	agent.UpdatedAt = now
	return nil
}

// Burn 永久作废智能体。仍在挂牌的智能体不能作废。
func (r *Registry) Burn(id uint64, caller common.Address, now int64) error {
	agent, err := r.mutable(id, caller)
	if err != nil {
		return err
	}
	if r.listings.HasActiveListing(id, now) {
		return ErrAgentListed
	}
	agent.Valid = false
	agent.BurnedAt = now
	agent.UpdatedAt = now
	return nil
}

// CheckTransfer 校验转移前置条件但不修改状态，供结算前探测使用。
func (r *Registry) CheckTransfer(id uint64, from common.Address) error {
	_, err := r.mutable(id, from)
	return err
}

// Transfer 将所有权从 from 转给 to，并记录前任所有者。不检查挂牌状态，挂牌中的智能体也可直接转移。
func (r *Registry) Transfer(id uint64, from, to common.Address, now int64) error {
	agent, err := r.mutable(id, from)
	if err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrEmptyRecipient
	}
	agent.PreviousOwners = append(agent.PreviousOwners, from)
	agent.Owner = to
	agent.UpdatedAt = now
	return nil
}

// Checkpoint 记录编号分配与 ids 对应智能体的快照，返回的函数撤销此后的登记与修改。
func (r *Registry) Checkpoint(ids ...uint64) func() {
	nextID, count := r.nextID, len(r.order)
	saved := make(map[uint64]Agent, len(ids))
	for _, id := range ids {
		if agent, ok := r.agents[id]; ok {
			saved[id] = *agent.clone()
		}
	}
	return func() {
		for _, id := range r.order[count:] {
			delete(r.agents, id)
		}
		r.order = r.order[:count]
		r.nextID = nextID
		for id, agent := range saved {
			*r.agents[id] = agent
		}
	}
}

// Get 返回智能体记录的副本。
func (r *Registry) Get(id uint64) (*Agent, error) {
	agent, ok := r.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return agent.clone(), nil
}

// ListByOwner 按创建顺序返回当前归属 owner 的智能体，包含已作废的记录。
func (r *Registry) ListByOwner(owner common.Address) []*Agent {
	result := make([]*Agent, 0)
	for _, id := range r.order {
		agent := r.agents[id]
		if agent.Owner == owner {
			result = append(result, agent.clone())
		}
	}
	return result
}

// List 按编号顺序返回全部智能体。
func (r *Registry) List() []*Agent {
	result := make([]*Agent, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.agents[id].clone())
	}
	return result
}

// Len 返回已分配的智能体数量。
func (r *Registry) Len() int {
	return len(r.order)
}

// mutable 按 NotFound → Invalidated → Unauthorized 的顺序校验可写性。
func (r *Registry) mutable(id uint64, caller common.Address) (*Agent, error) {
	agent, ok := r.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	if !agent.Valid {
		return nil, ErrAgentBurned
	}
	if agent.Owner != caller {
		return nil, ErrNotOwner
	}
	return agent, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/thesisflow/thesisflow/internal/model"
)

// Common errors for user repository operations.
var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailExists  = errors.New("email already exists")
)

// CreateUser inserts a new user. An empty ID lets the database assign one.
func (r *Repository) CreateUser(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (id, email, created_at)
		VALUES (COALESCE($1::uuid, gen_random_uuid()), $2, $3)
		RETURNING id::text
	`

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}

	err := r.pool.QueryRow(ctx, query,
		nullableString(user.ID),
		user.Email,
		user.CreatedAt,
	).Scan(&user.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// GetUserByID retrieves a user by their ID.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	query := `
		SELECT id::text, email, created_at
		FROM users
		WHERE id = $1
	`

	var user model.User
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&user.ID,
		&user.Email,
		&user.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidInput(err) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}

	return &user, nil
}

// GetUserByEmail retrieves a user by their email address.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `
		SELECT id::text, email, created_at
		FROM users
		WHERE lower(email) = lower($1)
	`

	var user model.User
	err := r.pool.QueryRow(ctx, query, email).Scan(
		&user.ID,
		&user.Email,
		&user.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	return &user, nil
}

// GetOrCreateUser gets a user by email or creates one if not found.
func (r *Repository) GetOrCreateUser(ctx context.Context, user *model.User) (*model.User, error) {
	existing, err := r.GetUserByEmail(ctx, user.Email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	user.CreatedAt = time.Now()
	if err := r.CreateUser(ctx, user); err != nil {
		// Handle race condition - another request may have created it
		if errors.Is(err, ErrEmailExists) {
			return r.GetUserByEmail(ctx, user.Email)
		}
		return nil, err
	}

	return user, nil
}

// EnsureUser makes sure a users row exists for an id issued by the identity
// provider. Bearer tokens may reference users this database has not seen.
func (r *Repository) EnsureUser(ctx context.Context, id, email string) error {
	if email == "" {
		email = id + "@users.invalid"
	}
	query := `
		INSERT INTO users (id, email)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, query, id, email); err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}
	return nil
}

// UpsertProfile stores display fields for a user.
func (r *Repository) UpsertProfile(ctx context.Context, p *model.Profile) error {
	query := `
		INSERT INTO user_profiles (user_id, full_name, avatar_url, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id) DO UPDATE
		SET full_name = EXCLUDED.full_name, avatar_url = EXCLUDED.avatar_url, updated_at = now()
	`
	if _, err := r.pool.Exec(ctx, query, p.UserID, nullableString(p.FullName), nullableString(p.AvatarURL)); err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// GetProfiles returns profiles keyed by user id. Users without a profile
// row still get an entry carrying their email.
func (r *Repository) GetProfiles(ctx context.Context, userIDs []string) (map[string]*model.Profile, error) {
	out := make(map[string]*model.Profile, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	query := `
		SELECT u.id::text, COALESCE(p.full_name, ''), COALESCE(p.avatar_url, ''), u.email
		FROM users u
		LEFT JOIN user_profiles p ON p.user_id = u.id
		WHERE u.id = ANY($1::uuid[])
	`

	rows, err := r.pool.Query(ctx, query, userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p model.Profile
		if err := rows.Scan(&p.UserID, &p.FullName, &p.AvatarURL, &p.Email); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		out[p.UserID] = &p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}
	return out, nil
}

const planColumns = `user_id::text, plan_type, status, COALESCE(stripe_customer_id, ''),
	COALESCE(stripe_subscription_id, ''), current_period_start, current_period_end,
	cancel_at_period_end, updated_at`

func scanPlan(row pgx.Row) (*model.UserPlan, error) {
	var p model.UserPlan
	err := row.Scan(
		&p.UserID,
		&p.PlanType,
		&p.Status,
		&p.StripeCustomerID,
		&p.StripeSubscriptionID,
		&p.CurrentPeriodStart,
		&p.CurrentPeriodEnd,
		&p.CancelAtPeriodEnd,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetUserPlan returns the stored plan, or a free plan if none exists.
func (r *Repository) GetUserPlan(ctx context.Context, userID string) (*model.UserPlan, error) {
	query := `SELECT ` + planColumns + ` FROM user_plans WHERE user_id = $1`

	p, err := scanPlan(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &model.UserPlan{UserID: userID, PlanType: model.PlanFree, Status: "active"}, nil
		}
		return nil, fmt.Errorf("failed to get user plan: %w", err)
	}
	return p, nil
}

// GetPlanByCustomerID finds the plan holding a Stripe customer id.
func (r *Repository) GetPlanByCustomerID(ctx context.Context, customerID string) (*model.UserPlan, error) {
	query := `SELECT ` + planColumns + ` FROM user_plans WHERE stripe_customer_id = $1`

	p, err := scanPlan(r.pool.QueryRow(ctx, query, customerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get plan by customer: %w", err)
	}
	return p, nil
}

// SetStripeCustomerID records the Stripe customer for a user.
func (r *Repository) SetStripeCustomerID(ctx context.Context, userID, customerID string) error {
	query := `
		INSERT INTO user_plans (user_id, stripe_customer_id, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE
		SET stripe_customer_id = EXCLUDED.stripe_customer_id, updated_at = now()
	`
	if _, err := r.pool.Exec(ctx, query, userID, customerID); err != nil {
		return fmt.Errorf("failed to set stripe customer: %w", err)
	}
	return nil
}

// UpsertUserPlan writes the full plan state. Empty Stripe ids keep the
// stored values.
func (r *Repository) UpsertUserPlan(ctx context.Context, p *model.UserPlan) error {
	query := `
		INSERT INTO user_plans (user_id, plan_type, status, stripe_customer_id, stripe_subscription_id,
			current_period_start, current_period_end, cancel_at_period_end, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (user_id) DO UPDATE SET
			plan_type              = EXCLUDED.plan_type,
			status                 = EXCLUDED.status,
			stripe_customer_id     = COALESCE(EXCLUDED.stripe_customer_id, user_plans.stripe_customer_id),
			stripe_subscription_id = COALESCE(EXCLUDED.stripe_subscription_id, user_plans.stripe_subscription_id),
			current_period_start   = COALESCE(EXCLUDED.current_period_start, user_plans.current_period_start),
			current_period_end     = COALESCE(EXCLUDED.current_period_end, user_plans.current_period_end),
			cancel_at_period_end   = EXCLUDED.cancel_at_period_end,
			updated_at             = now()
	`
	_, err := r.pool.Exec(ctx, query,
		p.UserID,
		p.PlanType,
		p.Status,
		nullableString(p.StripeCustomerID),
		nullableString(p.StripeSubscriptionID),
		p.CurrentPeriodStart,
		p.CurrentPeriodEnd,
		p.CancelAtPeriodEnd,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert user plan: %w", err)
	}
	return nil
}

// SetPlanStatusByCustomer updates only the status of a customer's plan.
func (r *Repository) SetPlanStatusByCustomer(ctx context.Context, customerID, status string) (string, error) {
	query := `
		UPDATE user_plans SET status = $2, updated_at = now()
		WHERE stripe_customer_id = $1
		RETURNING user_id::text
	`
	var userID string
	if err := r.pool.QueryRow(ctx, query, customerID, status).Scan(&userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("failed to set plan status: %w", err)
	}
	return userID, nil
}

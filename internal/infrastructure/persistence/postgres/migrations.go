package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE PROFILES
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create profiles and level thresholds
-- Version: 001

CREATE TABLE IF NOT EXISTS profiles (
    id TEXT PRIMARY KEY,
    xp INTEGER NOT NULL DEFAULT 0,
    level INTEGER NOT NULL DEFAULT 1,
    tier VARCHAR(20) NOT NULL DEFAULT 'bronze',
    current_streak INTEGER NOT NULL DEFAULT 0,
    longest_streak INTEGER NOT NULL DEFAULT 0,
    last_active_date DATE,
    role VARCHAR(20) NOT NULL DEFAULT 'student',
    version BIGINT NOT NULL DEFAULT 1,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_xp CHECK (xp >= 0),
    CONSTRAINT valid_level CHECK (level >= 1),
    CONSTRAINT valid_streak CHECK (current_streak >= 0 AND longest_streak >= current_streak),
    CONSTRAINT valid_role CHECK (role IN ('student', 'admin'))
);

CREATE INDEX IF NOT EXISTS idx_profiles_xp ON profiles(xp DESC);

CREATE TABLE IF NOT EXISTS level_thresholds (
    level INTEGER PRIMARY KEY,
    min_xp INTEGER NOT NULL UNIQUE,
    tier VARCHAR(20) NOT NULL,

    CONSTRAINT valid_threshold_level CHECK (level >= 1),
    CONSTRAINT valid_min_xp CHECK (min_xp >= 0),
    CONSTRAINT valid_tier CHECK (tier IN ('bronze', 'silver', 'gold', 'platinum', 'diamond'))
);
`

const migration001Down = `
DROP TABLE IF EXISTS level_thresholds;
DROP TABLE IF EXISTS profiles;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE CATALOG
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create skill, challenge and lesson catalogs
-- Version: 002

CREATE TABLE IF NOT EXISTS skills (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    required_level INTEGER NOT NULL,

    CONSTRAINT valid_required_level CHECK (required_level >= 1)
);

CREATE INDEX IF NOT EXISTS idx_skills_required_level ON skills(required_level);

CREATE TABLE IF NOT EXISTS challenges (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    type VARCHAR(20) NOT NULL,
    target_value INTEGER NOT NULL DEFAULT 1,
    xp_reward INTEGER NOT NULL DEFAULT 0,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    start_date TIMESTAMP WITH TIME ZONE,
    end_date TIMESTAMP WITH TIME ZONE,

    CONSTRAINT valid_challenge_type CHECK (type IN ('daily', 'weekly', 'special')),
    CONSTRAINT valid_xp_reward CHECK (xp_reward >= 0)
);

CREATE TABLE IF NOT EXISTS lessons (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL DEFAULT '',
    xp_reward INTEGER NOT NULL DEFAULT 0,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,

    CONSTRAINT valid_lesson_xp_reward CHECK (xp_reward >= 0)
);
`

const migration002Down = `
DROP TABLE IF EXISTS lessons;
DROP TABLE IF EXISTS challenges;
DROP TABLE IF EXISTS skills;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CREATE USER PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
-- Migration: Create per-user progress tables
-- Version: 003

CREATE TABLE IF NOT EXISTS user_skills (
    user_id TEXT NOT NULL REFERENCES profiles(id),
    skill_id TEXT NOT NULL REFERENCES skills(id),
    status VARCHAR(20) NOT NULL DEFAULT 'available',
    unlocked_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMP WITH TIME ZONE,

    PRIMARY KEY (user_id, skill_id),
    CONSTRAINT valid_skill_status CHECK (status IN ('available', 'completed')),
    CONSTRAINT completed_has_timestamp CHECK ((status = 'completed') = (completed_at IS NOT NULL))
);

CREATE TABLE IF NOT EXISTS user_challenges (
    user_id TEXT NOT NULL REFERENCES profiles(id),
    challenge_id TEXT NOT NULL REFERENCES challenges(id),
    current_progress INTEGER NOT NULL DEFAULT 0,
    joined_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMP WITH TIME ZONE,

    PRIMARY KEY (user_id, challenge_id),
    CONSTRAINT valid_progress CHECK (current_progress >= 0)
);

CREATE INDEX IF NOT EXISTS idx_user_challenges_active
    ON user_challenges(user_id) WHERE completed_at IS NULL;

CREATE TABLE IF NOT EXISTS lesson_completions (
    user_id TEXT NOT NULL REFERENCES profiles(id),
    lesson_id TEXT NOT NULL REFERENCES lessons(id),
    xp_earned INTEGER NOT NULL,
    time_spent_seconds INTEGER,
    completed_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, lesson_id),
    CONSTRAINT valid_xp_earned CHECK (xp_earned >= 0),
    CONSTRAINT valid_time_spent CHECK (time_spent_seconds IS NULL OR time_spent_seconds >= 0)
);
`

const migration003Down = `
DROP TABLE IF EXISTS lesson_completions;
DROP TABLE IF EXISTS user_challenges;
DROP TABLE IF EXISTS user_skills;
`

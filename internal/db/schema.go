package db

// SchemaSQL contains the database schema initialization SQL.
const SchemaSQL = `
    -- ==========================================================================
    -- PROCESS TABLE (process definitions with embedded step arrays)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS process SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS title ON process TYPE string;
    DEFINE FIELD IF NOT EXISTS description ON process TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS image_url ON process TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS category ON process TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS created_by ON process TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS published ON process TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS steps ON process TYPE array<object> FLEXIBLE;
    -- Note: Must REMOVE then DEFINE to ensure FLEXIBLE is set (IF NOT EXISTS won't update existing field)
    REMOVE FIELD IF EXISTS steps.* ON process;
    DEFINE FIELD steps.* ON process TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS created ON process TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated ON process TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS process_published ON process FIELDS published;
    DEFINE INDEX IF NOT EXISTS process_category ON process FIELDS category;

    -- ==========================================================================
    -- SESSION TABLE (per-user conversation state, record id = user id)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS session SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS user_id ON session TYPE string;
    DEFINE FIELD IF NOT EXISTS process_id ON session TYPE option<string>;
    DEFINE FIELD IF NOT EXISTS current_step_index ON session TYPE int DEFAULT 0;
    DEFINE FIELD IF NOT EXISTS mode ON session TYPE string DEFAULT "idle";
    DEFINE FIELD IF NOT EXISTS answers ON session TYPE array<object> FLEXIBLE DEFAULT [];
    REMOVE FIELD IF EXISTS answers.* ON session;
    DEFINE FIELD answers.* ON session TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS is_processing_step ON session TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS conversation_history ON session TYPE array<string> DEFAULT [];
    DEFINE FIELD IF NOT EXISTS system_language ON session TYPE string DEFAULT "en";
    DEFINE FIELD IF NOT EXISTS updated ON session TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS session_updated ON session FIELDS updated;
    DEFINE INDEX IF NOT EXISTS session_process ON session FIELDS process_id;

    -- ==========================================================================
    -- ANSWER_RECORD TABLE (durable answers, record id = user id + process id)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS answer_record SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS user_id ON answer_record TYPE string;
    DEFINE FIELD IF NOT EXISTS process_id ON answer_record TYPE string;
    DEFINE FIELD IF NOT EXISTS answers ON answer_record TYPE array<object> FLEXIBLE DEFAULT [];
    REMOVE FIELD IF EXISTS answers.* ON answer_record;
    DEFINE FIELD answers.* ON answer_record TYPE object FLEXIBLE;
    DEFINE FIELD IF NOT EXISTS archived ON answer_record TYPE bool DEFAULT false;
    DEFINE FIELD IF NOT EXISTS archived_at ON answer_record TYPE option<datetime>;
    DEFINE FIELD IF NOT EXISTS created ON answer_record TYPE datetime DEFAULT time::now();
    DEFINE FIELD IF NOT EXISTS updated ON answer_record TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS answer_record_user ON answer_record FIELDS user_id;
    DEFINE INDEX IF NOT EXISTS answer_record_process ON answer_record FIELDS process_id;
    DEFINE INDEX IF NOT EXISTS answer_record_archived ON answer_record FIELDS archived;
`

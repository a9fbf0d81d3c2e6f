package sqlinline

// JobAdmissionLockKey serializes admission across every API instance.
const JobAdmissionLockKey int64 = 7_314_002

const QLockJobAdmission = `--sql b9ebd8f5-9025-4de3-8140-0e3e275c751b
select pg_advisory_xact_lock($1::bigint);
`

const QCountActiveJobs = `--sql 7691812d-0214-4ac4-88e8-7d87cefdf79d
select
  (count(*) filter (where user_id = $1::text))::int as user_active,
  count(*)::int as global_active
from jobs
where status in ('pending', 'processing');
`

const QInsertJob = `--sql d4f3d255-342e-42ff-bb71-838454f2ffc1
insert into jobs(
  id,
  user_id,
  job_type,
  prompt,
  input_parameters,
  locale,
  status,
  created_at,
  updated_at
) values (
  $1::uuid,
  $2::text,
  $3::text,
  $4::text,
  coalesce($5::jsonb, '{}'::jsonb),
  $6::text,
  'pending',
  now(),
  now()
)
returning
  id::text, user_id, job_type, prompt, input_parameters, locale, status,
  coalesce(provider_prediction_id, ''), result_data, coalesce(output_url, ''),
  coalesce(error_message, ''), created_at, started_at, completed_at, updated_at;
`

const QSelectJobByID = `--sql a7dab1e5-a814-4412-ac26-3cf740b440f8
select
  id::text, user_id, job_type, prompt, input_parameters, locale, status,
  coalesce(provider_prediction_id, ''), result_data, coalesce(output_url, ''),
  coalesce(error_message, ''), created_at, started_at, completed_at, updated_at
from jobs
where id = $1::uuid;
`

// QCompareAndSwapJobStatus applies a transition only when the stored status
// still equals $2. Timestamps come from the database clock.
const QCompareAndSwapJobStatus = `--sql 4a538825-d819-44bd-8cb0-aa0d87f1b6b0
update jobs
set
  status = $3::text,
  provider_prediction_id = coalesce(nullif($4::text, ''), provider_prediction_id),
  result_data = coalesce($5::jsonb, result_data),
  output_url = coalesce(nullif($6::text, ''), output_url),
  error_message = coalesce(nullif($7::text, ''), error_message),
  started_at = case when $3::text = 'processing' then now() else started_at end,
  completed_at = case
    when $3::text in ('completed', 'failed') then greatest(now(), coalesce(started_at, created_at))
    else completed_at
  end,
  updated_at = now()
where id = $1::uuid
  and status = $2::text
returning
  id::text, user_id, job_type, prompt, input_parameters, locale, status,
  coalesce(provider_prediction_id, ''), result_data, coalesce(output_url, ''),
  coalesce(error_message, ''), created_at, started_at, completed_at, updated_at;
`

const QListStaleJobs = `--sql c24f4432-3632-40a7-87b5-3bad8fb21a8f
select
  id::text, user_id, job_type, prompt, input_parameters, locale, status,
  coalesce(provider_prediction_id, ''), result_data, coalesce(output_url, ''),
  coalesce(error_message, ''), created_at, started_at, completed_at, updated_at
from jobs
where status in ('pending', 'processing')
  and created_at < $1::timestamptz
order by created_at asc
limit $2::int;
`

const QListPollableJobs = `--sql f4b11531-6e16-4adb-be25-5b9e0d6a6254
select
  id::text, user_id, job_type, prompt, input_parameters, locale, status,
  coalesce(provider_prediction_id, ''), result_data, coalesce(output_url, ''),
  coalesce(error_message, ''), created_at, started_at, completed_at, updated_at
from jobs
where status = 'processing'
  and provider_prediction_id is not null
  and updated_at < $1::timestamptz
order by updated_at asc
limit $2::int;
`

const QListJobsByUser = `--sql bac31dfa-0939-43e9-914f-982abffacbbe
select
  id::text, user_id, job_type, prompt, input_parameters, locale, status,
  coalesce(provider_prediction_id, ''), result_data, coalesce(output_url, ''),
  coalesce(error_message, ''), created_at, started_at, completed_at, updated_at
from jobs
where user_id = $1::text
order by created_at desc
limit $2::int offset $3::int;
`

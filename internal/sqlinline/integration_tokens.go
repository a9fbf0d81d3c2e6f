package sqlinline

const QSelectIntegrationToken = `--sql 387d4ec7-4440-45ce-8eb3-6ca28803ad32
select token
from integration_tokens
where provider = $1::text
limit 1;
`

const QUpsertIntegrationToken = `--sql d5261464-20e8-47ba-aead-7df8e5aad054
insert into integration_tokens (id, provider, token, created_at, updated_at)
values ($1::uuid, $2::text, $3::text, now(), now())
on conflict (provider) do update set
    token = excluded.token,
    updated_at = now();
`
